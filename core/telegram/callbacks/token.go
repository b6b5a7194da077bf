package callbacks

import (
	"errors"
	"fmt"
)

// MaxCallbackData is the Telegram limit for inline button callback data, in bytes.
const MaxCallbackData = 64

// ErrPayloadTooLong is returned when a packed button payload exceeds MaxCallbackData.
var ErrPayloadTooLong = errors.New("callbacks: payload exceeds callback data limit")

// Token is the decoded form of a packed action string.
type Token struct {
	Action string
	Params []string
}

// Button is a label with the packed payload to send as callback data.
type Button struct {
	Label   string
	Payload string
}

// Codec packs and unpacks tokens with a fixed, validated separator.
type Codec struct {
	sep string
}

// NewCodec validates sep and returns a Codec using it. An empty sep selects DefaultSeparator.
func NewCodec(sep string) (*Codec, error) {
	if sep == "" {
		sep = DefaultSeparator
	}
	if err := ValidateSeparator(sep); err != nil {
		return nil, err
	}
	return &Codec{sep: sep}, nil
}

// MustCodec is like NewCodec but panics on an invalid separator.
func MustCodec(sep string) *Codec {
	c, err := NewCodec(sep)
	if err != nil {
		panic(err)
	}
	return c
}

// Separator returns the configured separator.
func (c *Codec) Separator() string {
	return c.sep
}

// Pack encodes action and params.
func (c *Codec) Pack(action string, params ...string) (string, error) {
	return Pack(action, params, c.sep)
}

// Encode packs a Token.
func (c *Codec) Encode(t Token) (string, error) {
	return Pack(t.Action, t.Params, c.sep)
}

// Unpack decodes a packed string.
func (c *Codec) Unpack(token string) (Token, error) {
	return Unpack(token, c.sep)
}

// CheckAction reports whether action can be packed with this codec.
func (c *Codec) CheckAction(action string) error {
	_, err := Pack(action, nil, c.sep)
	return err
}

// Button builds a label/payload pair for an inline button bound to action.
func (c *Codec) Button(action, label string, params ...string) (Button, error) {
	payload, err := c.Pack(action, params...)
	if err != nil {
		return Button{}, err
	}
	if len(payload) > MaxCallbackData {
		return Button{}, fmt.Errorf("%w: %d bytes for action %q", ErrPayloadTooLong, len(payload), action)
	}
	return Button{Label: label, Payload: payload}, nil
}
