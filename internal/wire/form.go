package wire

// Form - форма данных xep-0004.
type Form struct {
	Type         string   `xml:"type,attr"`
	Title        string   `xml:"title,omitempty"`
	Instructions []string `xml:"instructions,omitempty"`
	Fields       []Field  `xml:"field"`
}

// Field - поле формы.
type Field struct {
	Var     string   `xml:"var,attr,omitempty"`
	Type    string   `xml:"type,attr,omitempty"`
	Label   string   `xml:"label,attr,omitempty"`
	Values  []string `xml:"value"`
	Options []Option `xml:"option,omitempty"`
}

// Option - вариант выбора для list-single/list-multi.
type Option struct {
	Label string `xml:"label,attr,omitempty"`
	Value string `xml:"value"`
}

// FormType возвращает значение скрытого поля FORM_TYPE.
func (f *Form) FormType() string {
	if fl, ok := f.Field("FORM_TYPE"); ok {
		return fl.Value()
	}

	return ""
}

// Field ищет поле по имени.
func (f *Form) Field(name string) (*Field, bool) {
	if f == nil {
		return nil, false
	}

	for i := range f.Fields {
		if f.Fields[i].Var == name {
			return &f.Fields[i], true
		}
	}

	return nil, false
}

// Value возвращает первое значение поля.
func (fl *Field) Value() string {
	if len(fl.Values) == 0 {
		return ""
	}

	return fl.Values[0]
}

// Bool разбирает булево поле. Второе значение false, если в поле не булево значение.
func (fl *Field) Bool() (bool, bool) {
	switch fl.Value() {
	case "1", "true":
		return true, true
	case "0", "false":
		return false, true
	default:
		return false, false
	}
}

// FormatBool - каноническое представление булева значения в формах.
func FormatBool(v bool) string {
	if v {
		return "1"
	}

	return "0"
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
