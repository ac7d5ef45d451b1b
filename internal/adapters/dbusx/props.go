package dbusx

import "github.com/godbus/dbus/v5"

// Props is a property map as returned by GetAll or PropertiesChanged.
// Accessors return the zero value when a key is missing or has another type.
type Props map[string]dbus.Variant

// Update copies changed into p.
func (p Props) Update(changed Props) {
	for k, v := range changed {
		p[k] = v
	}
}

// Has reports whether key is present.
func (p Props) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func (p Props) String(key string) string {
	s, _ := p[key].Value().(string)
	return s
}

func (p Props) Bool(key string) bool {
	b, _ := p[key].Value().(bool)
	return b
}

func (p Props) ObjectPath(key string) dbus.ObjectPath {
	op, _ := p[key].Value().(dbus.ObjectPath)
	return op
}

func (p Props) Strings(key string) []string {
	ss, _ := p[key].Value().([]string)
	return ss
}

func (p Props) ObjectPaths(key string) []dbus.ObjectPath {
	ops, _ := p[key].Value().([]dbus.ObjectPath)
	return ops
}

func (p Props) Bytes(key string) []byte {
	b, _ := p[key].Value().([]byte)
	return b
}

// Float returns a numeric property as float64 whatever its wire type.
func (p Props) Float(key string) float64 {
	n, _ := number(p[key].Value())
	return n
}

// Int64 returns a numeric property as int64 whatever its wire type.
func (p Props) Int64(key string) int64 {
	n, _ := number(p[key].Value())
	return int64(n)
}

// Uint32 returns a numeric property as uint32. Negative values read as 0.
func (p Props) Uint32(key string) uint32 {
	n, _ := number(p[key].Value())
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// Map returns a nested a{sv} property.
func (p Props) Map(key string) Props {
	m, _ := p[key].Value().(map[string]dbus.Variant)
	return Props(m)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case byte:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
