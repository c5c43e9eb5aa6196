package domain

import (
	"strings"

	"github.com/juju/errors"
)

var allocTypeNames = map[AllocType]string{
	AllocTypeAuto:         "auto",
	AllocTypeSticky:       "sticky",
	AllocTypeUserReserved: "user_reserved",
}

func (t AllocType) String() string {
	if name, ok := allocTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseAllocType accepts the names returned by AllocType.String, in any case.
func ParseAllocType(s string) (AllocType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range allocTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, errors.NotValidf("allocation type %q", s)
}

func (t AllocType) MarshalText() ([]byte, error) {
	if _, ok := allocTypeNames[t]; !ok {
		return nil, errors.NotValidf("allocation type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *AllocType) UnmarshalText(text []byte) error {
	parsed, err := ParseAllocType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
