package types

import (
	"fmt"
	"strings"
)

func (k AddressKind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAddressKind, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *AddressKind) UnmarshalText(b []byte) error {
	kind, err := ParseAddressKind(string(b))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

func (d Domain) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Domain) UnmarshalText(b []byte) error {
	domain, err := ParseDomain(string(b))
	if err != nil {
		return err
	}
	*d = domain
	return nil
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "incoming":
		*d = DirectionIncoming
	case "outgoing":
		*d = DirectionOutgoing
	default:
		return fmt.Errorf("unknown direction %q", string(b))
	}
	return nil
}

func (s TxStatus) MarshalText() ([]byte, error) {
	str := s.String()
	if str == "" {
		return nil, fmt.Errorf("unknown tx status %d", uint8(s))
	}
	return []byte(str), nil
}

func (s *TxStatus) UnmarshalText(b []byte) error {
	status, err := ParseTxStatus(string(b))
	if err != nil {
		return err
	}
	*s = status
	return nil
}

func ParseTxStatus(s string) (TxStatus, error) {
	for _, status := range []TxStatus{TxPending, TxConfirmed, TxSettled, TxFailed} {
		if strings.EqualFold(status.String(), s) {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown tx status %q", s)
}
