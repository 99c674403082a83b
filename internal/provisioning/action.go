package provisioning

// ActionKind is the discriminant stored with every action row.
type ActionKind string

const (
	KindBridge     ActionKind = "bridge"
	KindConference ActionKind = "conference"
)

// Action is a dialplan action bound 1:1 to an extension. The variant set is
// closed: *Bridge and *Conference.
type Action interface {
	Kind() ActionKind
	ActionName() string
	isAction()
}

// BridgeLine is a Line that a bridge rings.
type BridgeLine struct {
	ID       int64
	Name     string
	Username string
}

// Bridge simultaneously rings its member lines and outside lines.
type Bridge struct {
	ID           int64
	Name         string
	Lines        []BridgeLine
	OutsideLines []OutsideLine
}

func (b *Bridge) Kind() ActionKind { return KindBridge }
func (b *Bridge) ActionName() string { return b.Name }
func (*Bridge) isAction() {}

// Conference places the caller in a named conference room.
type Conference struct {
	ID   int64
	Name string
}

func (c *Conference) Kind() ActionKind { return KindConference }
func (c *Conference) ActionName() string { return c.Name }
func (*Conference) isAction() {}
