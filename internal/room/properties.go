package room

import (
	"fmt"
	"strconv"

	"muc-connection-manager/internal/wire"

	"golang.org/x/exp/slices"
)

// Property - имя свойства комнаты в уведомлениях PropertiesChanged и в UpdateConfiguration.
type Property string

const (
	PropAnonymous         Property = "anonymous"
	PropInviteOnly        Property = "invite-only"
	PropModerated         Property = "moderated"
	PropTitle             Property = "title"
	PropDescription       Property = "description"
	PropPersistent        Property = "persistent"
	PropPrivate           Property = "private"
	PropPasswordProtected Property = "password-protected"
	PropPassword          Property = "password"
	PropLimit             Property = "limit"

	PropSubject          Property = "subject"
	PropSubjectActor     Property = "subject-actor"
	PropSubjectTimestamp Property = "subject-timestamp"

	PropCanUpdateConfiguration Property = "can-update-configuration"
	PropMutableProperties      Property = "mutable-properties"
	PropPasswordRequired       Property = "password-required"
	PropSelfHandle             Property = "self-handle"
)

// configProperties - свойства конфигурации, которые можно менять через UpdateConfiguration.
var configProperties = []Property{
	PropAnonymous,
	PropInviteOnly,
	PropModerated,
	PropTitle,
	PropDescription,
	PropPersistent,
	PropPrivate,
	PropPasswordProtected,
	PropPassword,
	PropLimit,
}

// ConfigProperties возвращает свойства, которые можно менять через UpdateConfiguration.
func ConfigProperties() []Property {
	return slices.Clone(configProperties)
}

// RoomConfig - закэшированная конфигурация комнаты.
type RoomConfig struct {
	Anonymous         bool
	InviteOnly        bool
	Moderated         bool
	Title             string
	Description       string
	Persistent        bool
	Private           bool
	PasswordProtected bool
	Password          string
	Limit             int

	CanUpdateConfiguration bool
	Mutable                map[Property]bool
}

// Имена полей форм muc#roominfo и muc#roomconfig.
const (
	fieldRoomName      = "muc#roomconfig_roomname"
	fieldRoomDesc      = "muc#roomconfig_roomdesc"
	fieldInfoDesc      = "muc#roominfo_description"
	fieldWhois         = "muc#roomconfig_whois"
	fieldMembersOnly   = "muc#roomconfig_membersonly"
	fieldModerated     = "muc#roomconfig_moderatedroom"
	fieldSecret        = "muc#roomconfig_roomsecret"
	fieldPasswordProt  = "muc#roomconfig_passwordprotectedroom"
	fieldPersistent    = "muc#roomconfig_persistentroom"
	fieldPublic        = "muc#roomconfig_publicroom"
	fieldMaxUsers      = "muc#roomconfig_maxusers"
	whoisModerators    = "moderators"
	whoisAnyone        = "anyone"
	identityConference = "conference"
)

// discoFeature - флаг конфигурации, который выставляет фича из disco#info.
type discoFeature struct {
	prop  Property
	value bool
}

var discoFeatures = map[string]discoFeature{
	"muc_nonanonymous":      {PropAnonymous, false},
	"muc_semianonymous":     {PropAnonymous, true},
	"muc_anonymous":         {PropAnonymous, true},
	"muc_open":              {PropInviteOnly, false},
	"muc_membersonly":       {PropInviteOnly, true},
	"muc_unmoderated":       {PropModerated, false},
	"muc_moderated":         {PropModerated, true},
	"muc_unsecured":         {PropPasswordProtected, false},
	"muc_passwordprotected": {PropPasswordProtected, true},
	"muc_temporary":         {PropPersistent, false},
	"muc_persistent":        {PropPersistent, true},
	"muc_public":            {PropPrivate, false},
	"muc_hidden":            {PropPrivate, true},
}

// configField описывает, как свойство записывается в поле формы. Для одного свойства разные серверы используют
// разные имена полей, поэтому имён несколько.
type configField struct {
	prop   Property
	names  []string
	encode func(v interface{}, fieldName string) []string
}

func encodeBool(v interface{}, _ string) []string {
	return []string{wire.FormatBool(v.(bool))}
}

func encodeNotBool(v interface{}, _ string) []string {
	return []string{wire.FormatBool(!v.(bool))}
}

func encodeString(v interface{}, _ string) []string {
	return []string{v.(string)}
}

func encodeInt(v interface{}, _ string) []string {
	return []string{strconv.Itoa(v.(int))}
}

func encodeAnonymous(v interface{}, name string) []string {
	if name == fieldWhois {
		if v.(bool) {
			return []string{whoisModerators}
		}

		return []string{whoisAnyone}
	}

	return encodeBool(v, name)
}

var configFields = []configField{
	{PropAnonymous, []string{fieldWhois, "anonymous"}, encodeAnonymous},
	{PropInviteOnly, []string{fieldMembersOnly, "members_only"}, encodeBool},
	{PropModerated, []string{fieldModerated, "moderated"}, encodeBool},
	{PropTitle, []string{fieldRoomName, "title"}, encodeString},
	{PropDescription, []string{fieldRoomDesc, "description"}, encodeString},
	{PropPersistent, []string{fieldPersistent, "persistent"}, encodeBool},
	{PropPrivate, []string{fieldPublic, "public"}, encodeNotBool},
	{PropPasswordProtected, []string{fieldPasswordProt, "password_protected"}, encodeBool},
	{PropPassword, []string{fieldSecret, "password"}, encodeString},
	{PropLimit, []string{fieldMaxUsers}, encodeInt},
}

// fieldByName находит описание поля по имени из формы сервера.
func fieldByName(name string) (configField, bool) {
	for _, cf := range configFields {
		if slices.Contains(cf.names, name) {
			return cf, true
		}
	}

	return configField{}, false //nolint:exhaustruct
}

// configRequest - выполняющийся UpdateConfiguration.
type configRequest struct {
	fields map[Property]interface{}
	done   func(error)
}

// notifyProperties сообщает наблюдателю об изменившихся свойствах.
func (r *Room) notifyProperties(props ...Property) {
	if len(props) == 0 {
		return
	}

	r.deps.Observer.PropertiesChanged(props)
}

// fetchProperties запрашивает disco#info комнаты. Fire-and-forget: при ошибке конфигурация остаётся прежней до
// следующего опроса.
func (r *Room) fetchProperties() {
	if r.discoInFlight || r.state == StateEnded {
		return
	}

	iq := wire.IQ{ //nolint:exhaustruct
		To:        r.room,
		Type:      wire.IQGet,
		DiscoInfo: &wire.DiscoInfo{}, //nolint:exhaustruct
	}

	err := r.deps.Transport.SendIQ(iq, func(reply *wire.IQ, err error) {
		r.discoInFlight = false

		if r.state == StateEnded {
			return
		}

		if err := replyError(reply, err); err != nil {
			r.log.Debugf("Room disco#info failed: %s", err)

			return
		}

		r.applyDisco(reply.DiscoInfo)
	})

	if err != nil {
		r.log.Debugf("Unable to send disco#info: %s", err)

		return
	}

	r.discoInFlight = true
}

// applyDisco переносит фичи и форму muc#roominfo в кэш конфигурации и уведомляет об изменившихся свойствах.
func (r *Room) applyDisco(info *wire.DiscoInfo) {
	if info == nil {
		return
	}

	next := r.config

	for _, id := range info.Identities {
		if id.Category == identityConference && id.Name != "" {
			next.Title = id.Name
		}
	}

	for _, f := range info.Features {
		df, ok := discoFeatures[f.Var]

		if !ok {
			continue
		}

		setConfigBool(&next, df.prop, df.value)
	}

	for i := range info.Forms {
		form := &info.Forms[i]

		if form.FormType() != wire.NSRoomInfo {
			continue
		}

		if fl, ok := form.Field(fieldInfoDesc); ok {
			next.Description = fl.Value()
		}

		if fl, ok := form.Field(fieldRoomName); ok && fl.Value() != "" {
			next.Title = fl.Value()
		}
	}

	changed := diffConfig(&r.config, &next)
	r.config = next

	r.notifyProperties(changed...)
}

func setConfigBool(c *RoomConfig, p Property, v bool) {
	switch p { //nolint:exhaustive
	case PropAnonymous:
		c.Anonymous = v
	case PropInviteOnly:
		c.InviteOnly = v
	case PropModerated:
		c.Moderated = v
	case PropPasswordProtected:
		c.PasswordProtected = v
	case PropPersistent:
		c.Persistent = v
	case PropPrivate:
		c.Private = v
	}
}

func diffConfig(a, b *RoomConfig) []Property {
	var changed []Property

	add := func(p Property, differ bool) {
		if differ {
			changed = append(changed, p)
		}
	}

	add(PropAnonymous, a.Anonymous != b.Anonymous)
	add(PropInviteOnly, a.InviteOnly != b.InviteOnly)
	add(PropModerated, a.Moderated != b.Moderated)
	add(PropTitle, a.Title != b.Title)
	add(PropDescription, a.Description != b.Description)
	add(PropPersistent, a.Persistent != b.Persistent)
	add(PropPrivate, a.Private != b.Private)
	add(PropPasswordProtected, a.PasswordProtected != b.PasswordProtected)
	add(PropPassword, a.Password != b.Password)
	add(PropLimit, a.Limit != b.Limit)

	return changed
}

// startPoll заводит периодический опрос свойств. Интервал зависит от того, экономим ли мы трафик.
func (r *Room) startPoll() {
	stopTimer(&r.pollTimer)

	interval := r.opts.PollInterval

	if r.opts.LowBandwidth {
		interval = r.opts.PollIntervalLowBandwidth
	}

	r.pollTimer = r.deps.Scheduler.Every(interval, func() { r.Dispatch(pollTick{}) })
}

func (r *Room) stopPoll() {
	stopTimer(&r.pollTimer)
}

// UpdateConfiguration меняет конфигурацию комнаты: запрашивает форму, подставляет в неё запрошенные значения,
// остальные поля отправляет как есть. Одновременно выполняется не больше одного обновления.
func (r *Room) UpdateConfiguration(fields map[Property]interface{}, done func(error)) error {
	if r.state != StateJoined || r.closing {
		return ErrNotJoined
	}

	if !r.config.CanUpdateConfiguration {
		return fmt.Errorf("%w: only room owners can change configuration", ErrAuthorization)
	}

	if r.pendingConfig != nil {
		return ErrBusy
	}

	if len(fields) == 0 {
		return fmt.Errorf("%w: no properties to update", ErrInvalidArgument)
	}

	for p, v := range fields {
		if err := r.validateProperty(p, v); err != nil {
			return err
		}
	}

	if done == nil {
		done = func(error) {}
	}

	req := &configRequest{fields: fields, done: done}
	r.pendingConfig = req

	iq := wire.IQ{ //nolint:exhaustruct
		To:    r.room,
		Type:  wire.IQGet,
		Owner: &wire.OwnerQuery{}, //nolint:exhaustruct
	}

	err := r.deps.Transport.SendIQ(iq, func(reply *wire.IQ, err error) {
		r.onConfigForm(req, reply, err)
	})

	if err != nil {
		r.finishConfig(req, fmt.Errorf("%w: unable to request configuration form: %w", ErrTransport, err))
	}

	return nil
}

func (r *Room) validateProperty(p Property, v interface{}) error {
	var ok bool

	switch p { //nolint:exhaustive
	case PropAnonymous, PropInviteOnly, PropModerated, PropPersistent, PropPrivate, PropPasswordProtected:
		_, ok = v.(bool)
	case PropTitle, PropDescription, PropPassword:
		_, ok = v.(string)
	case PropLimit:
		var n int

		n, ok = v.(int)
		ok = ok && n >= 0
	default:
		return fmt.Errorf("%w: unknown property %q", ErrInvalidArgument, p)
	}

	if !ok {
		return fmt.Errorf("%w: bad value %v for property %q", ErrInvalidArgument, v, p)
	}

	if !r.config.Mutable[p] {
		return fmt.Errorf("%w: property %q is not mutable", ErrInvalidArgument, p)
	}

	return nil
}

// onConfigForm заполняет полученную форму и отправляет её обратно.
func (r *Room) onConfigForm(req *configRequest, reply *wire.IQ, err error) {
	if r.pendingConfig != req {
		return
	}

	if err := replyError(reply, err); err != nil {
		r.finishConfig(req, err)

		return
	}

	if reply.Owner == nil || reply.Owner.Form == nil {
		r.finishConfig(req, fmt.Errorf("%w: configuration form missing in reply", ErrProtocol))

		return
	}

	submit, err := fillConfigForm(reply.Owner.Form, req.fields)

	if err != nil {
		r.finishConfig(req, err)

		return
	}

	iq := wire.IQ{ //nolint:exhaustruct
		To:    r.room,
		Type:  wire.IQSet,
		Owner: &wire.OwnerQuery{Form: submit},
	}

	err = r.deps.Transport.SendIQ(iq, func(reply *wire.IQ, err error) {
		if r.pendingConfig != req {
			return
		}

		if err := replyError(reply, err); err != nil {
			r.finishConfig(req, err)

			return
		}

		r.log.Info("Room configuration updated")
		r.applySubmitted(req.fields)
		r.finishConfig(req, nil)
		r.fetchProperties()
	})

	if err != nil {
		r.finishConfig(req, fmt.Errorf("%w: unable to submit configuration form: %w", ErrTransport, err))
	}
}

// applySubmitted запоминает свойства, которых нет в disco#info: пароль и лимит участников.
func (r *Room) applySubmitted(fields map[Property]interface{}) {
	var changed []Property

	if v, ok := fields[PropPassword]; ok && v.(string) != r.config.Password {
		r.config.Password = v.(string)
		changed = append(changed, PropPassword)
	}

	if v, ok := fields[PropLimit]; ok && v.(int) != r.config.Limit {
		r.config.Limit = v.(int)
		changed = append(changed, PropLimit)
	}

	r.notifyProperties(changed...)
}

func (r *Room) finishConfig(req *configRequest, err error) {
	if r.pendingConfig != req {
		return
	}

	r.pendingConfig = nil

	if err != nil {
		r.log.Warnf("Room configuration update failed: %s", err)
	}

	req.done(err)
}

// fillConfigForm строит форму submit: каждое поле формы сервера либо получает запрошенное значение, либо
// копируется без изменений. Если какое-то из запрошенных свойств не нашло поля, это ошибка совместимости.
func fillConfigForm(form *wire.Form, fields map[Property]interface{}) (*wire.Form, error) {
	submit := &wire.Form{Type: "submit"} //nolint:exhaustruct
	matched := make(map[Property]bool, len(fields))

	for _, fl := range form.Fields {
		if fl.Var == "" || fl.Type == "fixed" {
			continue
		}

		out := wire.Field{Var: fl.Var, Values: fl.Values} //nolint:exhaustruct

		if cf, ok := fieldByName(fl.Var); ok {
			if v, ok := fields[cf.prop]; ok {
				out.Values = cf.encode(v, fl.Var)
				matched[cf.prop] = true
			}
		}

		submit.Fields = append(submit.Fields, out)
	}

	var unmatched []string

	for p := range fields {
		if !matched[p] {
			unmatched = append(unmatched, string(p))
		}
	}

	if len(unmatched) > 0 {
		slices.Sort(unmatched)

		return nil, &UnmatchedFieldsError{Fields: unmatched}
	}

	return submit, nil
}

// submitInstantRoom принимает конфигурацию по умолчанию для только что созданной комнаты (instant room).
func (r *Room) submitInstantRoom() {
	iq := wire.IQ{ //nolint:exhaustruct
		To:    r.room,
		Type:  wire.IQSet,
		Owner: &wire.OwnerQuery{Form: &wire.Form{Type: "submit"}}, //nolint:exhaustruct
	}

	err := r.deps.Transport.SendIQ(iq, func(reply *wire.IQ, err error) {
		if err := replyError(reply, err); err != nil {
			r.log.Warnf("Unable to unlock new room: %s", err)

			return
		}

		r.log.Info("New room unlocked with default configuration")
		r.fetchProperties()
	})

	if err != nil {
		r.log.Warnf("Unable to unlock new room: %s", err)
	}
}

// Config возвращает копию закэшированной конфигурации.
func (r *Room) Config() RoomConfig {
	c := r.config
	c.Mutable = make(map[Property]bool, len(r.config.Mutable))

	for k, v := range r.config.Mutable {
		c.Mutable[k] = v
	}

	return c
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
