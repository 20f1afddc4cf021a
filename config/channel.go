package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/progrium/rtcmux/mux"
)

// ChannelSpec describes a channel to open, from a config file or a
// "label=chat,protocol=json,ordered=false,max_retransmits=3" flag value.
type ChannelSpec struct {
	Label          string  `mapstructure:"label" toml:"label"`
	Protocol       string  `mapstructure:"protocol" toml:"protocol"`
	Ordered        *bool   `mapstructure:"ordered" toml:"ordered"`
	MaxRetransmits *uint32 `mapstructure:"max_retransmits" toml:"max_retransmits"`
	MaxLifetime    *uint32 `mapstructure:"max_lifetime" toml:"max_lifetime"`
	Negotiated     bool    `mapstructure:"negotiated" toml:"negotiated"`
	ID             uint16  `mapstructure:"id" toml:"id"`
}

// ParseChannelSpec parses comma separated key=value pairs.
func ParseChannelSpec(s string) (ChannelSpec, error) {
	raw := map[string]interface{}{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			// A bare word is the label.
			k, v = "label", part
		}
		raw[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	var spec ChannelSpec
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &spec,
	})
	if err != nil {
		return ChannelSpec{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return ChannelSpec{}, fmt.Errorf("channel spec %q: %w", s, err)
	}
	if _, err := spec.Options(); err != nil {
		return ChannelSpec{}, fmt.Errorf("channel spec %q: %w", s, err)
	}
	return spec, nil
}

// Options converts the spec for mux.Connection.Open. Channels are ordered
// and reliable unless configured otherwise.
func (s ChannelSpec) Options() (mux.ChannelOptions, error) {
	opts := mux.ChannelOptions{
		Label:      s.Label,
		Protocol:   s.Protocol,
		Ordered:    true,
		Negotiated: s.Negotiated,
		Stream:     s.ID,
	}
	if s.Ordered != nil {
		opts.Ordered = *s.Ordered
	}
	switch {
	case s.MaxRetransmits != nil && s.MaxLifetime != nil:
		return mux.ChannelOptions{}, errors.New("max_retransmits and max_lifetime are exclusive")
	case s.MaxRetransmits != nil:
		opts.Reliability = mux.Retransmits(*s.MaxRetransmits)
	case s.MaxLifetime != nil:
		opts.Reliability = mux.Lifetime(*s.MaxLifetime)
	}
	return opts, nil
}
