package tile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Address identifies a tile inside the global grid. Rows grow northward
// from -90° and columns eastward from -180°.
type Address struct {
	Level  int `json:"level"`
	Row    int `json:"row"`
	Column int `json:"column"`
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Level, a.Row, a.Column)
}

// ParseAddress parses the "level/row/column" form.
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Address{}, errors.New("invalid tile address").
			WithTag("address", s)
	}

	var values [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Address{}, errors.New("invalid tile address").
				WithTag("address", s).
				Wrap(err)
		}
		if v < 0 {
			return Address{}, errors.New("negative tile address component").
				WithTag("address", s)
		}
		values[i] = v
	}
	return Address{Level: values[0], Row: values[1], Column: values[2]}, nil
}

// Parent returns the address one level up. ok is false at level 0.
func (a Address) Parent() (Address, bool) {
	if a.Level == 0 {
		return Address{}, false
	}
	return Address{Level: a.Level - 1, Row: a.Row / 2, Column: a.Column / 2}, true
}

// Children returns the four child addresses in SW, SE, NW, NE order.
func (a Address) Children() [4]Address {
	l, r, c := a.Level+1, 2*a.Row, 2*a.Column
	return [4]Address{
		{Level: l, Row: r, Column: c},
		{Level: l, Row: r, Column: c + 1},
		{Level: l, Row: r + 1, Column: c},
		{Level: l, Row: r + 1, Column: c + 1},
	}
}

// ResourceKey names a payload in a resource cache: either a tile of a
// dataset or a standalone image source.
type ResourceKey struct {
	Dataset string
	Address Address
	Source  string
}

// KeyFor returns the key of a dataset tile.
func KeyFor(dataset string, a Address) ResourceKey {
	return ResourceKey{Dataset: dataset, Address: a}
}

// SourceKey returns the key of a standalone image source.
func SourceKey(id string) ResourceKey {
	return ResourceKey{Source: id}
}

// IsTile reports whether the key names a dataset tile.
func (k ResourceKey) IsTile() bool {
	return k.Source == ""
}

func (k ResourceKey) String() string {
	if !k.IsTile() {
		return "source:" + k.Source
	}
	return k.Dataset + "/" + k.Address.String()
}
