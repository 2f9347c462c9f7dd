package users

import (
	"encoding/xml"
	"strings"

	"mellium.im/xmpp/jid"
)

// Subscription is the roster subscription state of a contact.
type Subscription string

const (
	SubscriptionNone Subscription = "none"
	SubscriptionTo   Subscription = "to"
	SubscriptionFrom Subscription = "from"
	SubscriptionBoth Subscription = "both"
)

// ParseSubscription maps an ejabberd subscription code onto a subscription.
// Unknown codes map to none.
func ParseSubscription(code string) Subscription {
	switch code {
	case "B":
		return SubscriptionBoth
	case "T":
		return SubscriptionTo
	case "F":
		return SubscriptionFrom
	default:
		return SubscriptionNone
	}
}

// RosterItem is one contact in a user's roster.
type RosterItem struct {
	Contact      jid.JID
	Name         string
	Subscription Subscription
	Groups       []string

	source string
}

type contactElement struct {
	XMLName xml.Name `xml:"contact"`
	JID     string   `xml:"jid,attr"`
	Name    string   `xml:"name,attr,omitempty"`
	Subs    string   `xml:"subs,attr"`
	Groups  []string `xml:"group"`
}

// MarshalXML encodes the item as a roster contact element.
func (r RosterItem) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	return e.EncodeElement(contactElement{
		JID:    r.Contact.Bare().String(),
		Name:   r.Name,
		Subs:   string(r.Subscription),
		Groups: r.Groups,
	}, xml.StartElement{Name: xml.Name{Local: "contact"}})
}

// User is a converted account: credentials plus roster.
type User struct {
	JID      jid.JID
	Password string
	Roster   []RosterItem
}

// ID implements converter.Entity
func (u *User) ID() string {
	return u.JID.Bare().String()
}

// RosterXML returns the roster as concatenated contact elements, or an
// empty string when the roster is empty.
func (u *User) RosterXML() (string, error) {
	var b strings.Builder
	enc := xml.NewEncoder(&b)
	for _, item := range u.Roster {
		if err := enc.Encode(item); err != nil {
			return "", err
		}
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return b.String(), nil
}
