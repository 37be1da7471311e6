// Package field provides fluent builders for declaring entity attributes.
//
// Attribute names follow database conventions (snake_case):
//
//	field.Int("order_id")
//	field.String("customer_name").NotEmpty()
//	field.Float("price").Positive()
//	field.Time("order_date").DefaultFunc(func() any { return time.Now() })
//
// The builders produce a *Descriptor consumed by schema.Registry.Define.
// Defaults declared with DefaultFunc are evaluated once per instance at
// construction time, never at declaration time.
package field

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// A Type represents the scalar type of an attribute.
type Type uint8

// List of attribute types.
const (
	TypeInvalid Type = iota
	TypeInt
	TypeInt64
	TypeFloat64
	TypeString
	TypeText
	TypeBool
	TypeTime
	TypeUUID
	endTypes
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeInt:     "int",
	TypeInt64:   "int64",
	TypeFloat64: "float64",
	TypeString:  "string",
	TypeText:    "text",
	TypeBool:    "bool",
	TypeTime:    "time",
	TypeUUID:    "uuid",
}

// String returns the name of the type.
func (t Type) String() string {
	if t < endTypes {
		return typeNames[t]
	}
	return fmt.Sprintf("invalid(%d)", t)
}

// Numeric reports if the given type is a numeric type.
func (t Type) Numeric() bool {
	return t == TypeInt || t == TypeInt64 || t == TypeFloat64
}

// Valid reports if the given type is a declared attribute type.
func (t Type) Valid() bool {
	return t > TypeInvalid && t < endTypes
}

// Validator is a value validation function applied on instance creation.
type Validator func(any) error

// A Descriptor for attribute configuration.
type Descriptor struct {
	Name       string      // attribute name.
	Type       Type        // attribute scalar type.
	Nillable   bool        // nullable in storage.
	Optional   bool        // not required at instance creation.
	Unique     bool        // unique value constraint.
	Immutable  bool        // cannot be updated after creation.
	Default    any         // literal default value.
	DefaultFn  func() any  // per-instance default, evaluated at construction.
	Validators []Validator // value validators.
	Comment    string      // attribute comment.
	StorageKey string      // optional column-name override.
	Err        error       // builder error, surfaced by Registry.Define.
}

// DefaultValue returns the default value of the descriptor, evaluating the
// default function if one was declared. ok is false if no default exists.
func (d *Descriptor) DefaultValue() (v any, ok bool) {
	switch {
	case d.DefaultFn != nil:
		return d.DefaultFn(), true
	case d.Default != nil:
		return d.Default, true
	default:
		return nil, false
	}
}

// Column returns the storage column name of the attribute.
func (d *Descriptor) Column() string {
	if d.StorageKey != "" {
		return d.StorageKey
	}
	return d.Name
}

// Int returns a new builder for an int attribute.
func Int(name string) *IntBuilder {
	return &IntBuilder{&Descriptor{Name: name, Type: TypeInt}}
}

// Int64 returns a new builder for an int64 attribute.
func Int64(name string) *IntBuilder {
	return &IntBuilder{&Descriptor{Name: name, Type: TypeInt64}}
}

// Float returns a new builder for a float64 attribute.
func Float(name string) *FloatBuilder {
	return &FloatBuilder{&Descriptor{Name: name, Type: TypeFloat64}}
}

// String returns a new builder for a string attribute.
func String(name string) *StringBuilder {
	return &StringBuilder{&Descriptor{Name: name, Type: TypeString}}
}

// Text returns a new builder for a string attribute without a size limit.
func Text(name string) *StringBuilder {
	return &StringBuilder{&Descriptor{Name: name, Type: TypeText}}
}

// Bool returns a new builder for a bool attribute.
func Bool(name string) *BoolBuilder {
	return &BoolBuilder{&Descriptor{Name: name, Type: TypeBool}}
}

// Time returns a new builder for a time attribute.
func Time(name string) *TimeBuilder {
	return &TimeBuilder{&Descriptor{Name: name, Type: TypeTime}}
}

// UUID returns a new builder for a uuid attribute.
func UUID(name string) *UUIDBuilder {
	return &UUIDBuilder{&Descriptor{Name: name, Type: TypeUUID}}
}

// IntBuilder is the builder for int attributes.
type IntBuilder struct {
	desc *Descriptor
}

// Nillable marks the attribute as nullable in storage.
func (b *IntBuilder) Nillable() *IntBuilder {
	b.desc.Nillable = true
	return b
}

// Optional marks the attribute as not required at instance creation.
func (b *IntBuilder) Optional() *IntBuilder {
	b.desc.Optional = true
	return b
}

// Unique adds a unique constraint on the attribute value.
func (b *IntBuilder) Unique() *IntBuilder {
	b.desc.Unique = true
	return b
}

// Immutable marks the attribute as not updatable.
func (b *IntBuilder) Immutable() *IntBuilder {
	b.desc.Immutable = true
	return b
}

// Default sets the literal default value of the attribute.
func (b *IntBuilder) Default(v int64) *IntBuilder {
	b.desc.Default = v
	return b
}

// DefaultFunc sets a default evaluated at instance construction.
func (b *IntBuilder) DefaultFunc(fn func() int64) *IntBuilder {
	b.desc.DefaultFn = func() any { return fn() }
	return b
}

// Min adds a minimum value validator.
func (b *IntBuilder) Min(v int64) *IntBuilder {
	b.desc.Validators = append(b.desc.Validators, func(value any) error {
		if n, ok := asInt64(value); !ok || n < v {
			return fmt.Errorf("value out of range (< %d)", v)
		}
		return nil
	})
	return b
}

// Max adds a maximum value validator.
func (b *IntBuilder) Max(v int64) *IntBuilder {
	b.desc.Validators = append(b.desc.Validators, func(value any) error {
		if n, ok := asInt64(value); !ok || n > v {
			return fmt.Errorf("value out of range (> %d)", v)
		}
		return nil
	})
	return b
}

// Range adds minimum and maximum value validators.
func (b *IntBuilder) Range(lo, hi int64) *IntBuilder {
	return b.Min(lo).Max(hi)
}

// Positive adds a > 0 validator.
func (b *IntBuilder) Positive() *IntBuilder {
	return b.Min(1)
}

// NonNegative adds a >= 0 validator.
func (b *IntBuilder) NonNegative() *IntBuilder {
	return b.Min(0)
}

// Comment sets the attribute comment.
func (b *IntBuilder) Comment(c string) *IntBuilder {
	b.desc.Comment = c
	return b
}

// StorageKey overrides the column name used in storage.
func (b *IntBuilder) StorageKey(key string) *IntBuilder {
	b.desc.StorageKey = key
	return b
}

// Descriptor implements the schema.Field interface by returning the
// descriptor of the attribute.
func (b *IntBuilder) Descriptor() *Descriptor {
	return b.desc
}

// FloatBuilder is the builder for float attributes.
type FloatBuilder struct {
	desc *Descriptor
}

// Nillable marks the attribute as nullable in storage.
func (b *FloatBuilder) Nillable() *FloatBuilder {
	b.desc.Nillable = true
	return b
}

// Optional marks the attribute as not required at instance creation.
func (b *FloatBuilder) Optional() *FloatBuilder {
	b.desc.Optional = true
	return b
}

// Immutable marks the attribute as not updatable.
func (b *FloatBuilder) Immutable() *FloatBuilder {
	b.desc.Immutable = true
	return b
}

// Default sets the literal default value of the attribute.
func (b *FloatBuilder) Default(v float64) *FloatBuilder {
	b.desc.Default = v
	return b
}

// DefaultFunc sets a default evaluated at instance construction.
func (b *FloatBuilder) DefaultFunc(fn func() float64) *FloatBuilder {
	b.desc.DefaultFn = func() any { return fn() }
	return b
}

// Min adds a minimum value validator.
func (b *FloatBuilder) Min(v float64) *FloatBuilder {
	b.desc.Validators = append(b.desc.Validators, func(value any) error {
		if f, ok := asFloat64(value); !ok || f < v {
			return fmt.Errorf("value out of range (< %v)", v)
		}
		return nil
	})
	return b
}

// Max adds a maximum value validator.
func (b *FloatBuilder) Max(v float64) *FloatBuilder {
	b.desc.Validators = append(b.desc.Validators, func(value any) error {
		if f, ok := asFloat64(value); !ok || f > v {
			return fmt.Errorf("value out of range (> %v)", v)
		}
		return nil
	})
	return b
}

// Positive adds a > 0 validator.
func (b *FloatBuilder) Positive() *FloatBuilder {
	b.desc.Validators = append(b.desc.Validators, func(value any) error {
		if f, ok := asFloat64(value); !ok || f <= 0 {
			return errors.New("value must be positive")
		}
		return nil
	})
	return b
}

// Comment sets the attribute comment.
func (b *FloatBuilder) Comment(c string) *FloatBuilder {
	b.desc.Comment = c
	return b
}

// StorageKey overrides the column name used in storage.
func (b *FloatBuilder) StorageKey(key string) *FloatBuilder {
	b.desc.StorageKey = key
	return b
}

// Descriptor returns the descriptor of the attribute.
func (b *FloatBuilder) Descriptor() *Descriptor {
	return b.desc
}

// StringBuilder is the builder for string attributes.
type StringBuilder struct {
	desc *Descriptor
}

// Nillable marks the attribute as nullable in storage.
func (b *StringBuilder) Nillable() *StringBuilder {
	b.desc.Nillable = true
	return b
}

// Optional marks the attribute as not required at instance creation.
func (b *StringBuilder) Optional() *StringBuilder {
	b.desc.Optional = true
	return b
}

// Unique adds a unique constraint on the attribute value.
func (b *StringBuilder) Unique() *StringBuilder {
	b.desc.Unique = true
	return b
}

// Immutable marks the attribute as not updatable.
func (b *StringBuilder) Immutable() *StringBuilder {
	b.desc.Immutable = true
	return b
}

// Default sets the literal default value of the attribute.
func (b *StringBuilder) Default(v string) *StringBuilder {
	b.desc.Default = v
	return b
}

// DefaultFunc sets a default evaluated at instance construction.
func (b *StringBuilder) DefaultFunc(fn func() string) *StringBuilder {
	b.desc.DefaultFn = func() any { return fn() }
	return b
}

// NotEmpty adds a non-empty validator.
func (b *StringBuilder) NotEmpty() *StringBuilder {
	return b.MinLen(1)
}

// MinLen adds a minimum length validator.
func (b *StringBuilder) MinLen(n int) *StringBuilder {
	b.desc.Validators = append(b.desc.Validators, func(value any) error {
		s, ok := value.(string)
		if !ok || len(s) < n {
			return fmt.Errorf("value is less than the required length %d", n)
		}
		return nil
	})
	return b
}

// MaxLen adds a maximum length validator.
func (b *StringBuilder) MaxLen(n int) *StringBuilder {
	b.desc.Validators = append(b.desc.Validators, func(value any) error {
		s, ok := value.(string)
		if !ok || len(s) > n {
			return fmt.Errorf("value is greater than the max length %d", n)
		}
		return nil
	})
	return b
}

// Comment sets the attribute comment.
func (b *StringBuilder) Comment(c string) *StringBuilder {
	b.desc.Comment = c
	return b
}

// StorageKey overrides the column name used in storage.
func (b *StringBuilder) StorageKey(key string) *StringBuilder {
	b.desc.StorageKey = key
	return b
}

// Descriptor returns the descriptor of the attribute.
func (b *StringBuilder) Descriptor() *Descriptor {
	return b.desc
}

// BoolBuilder is the builder for bool attributes.
type BoolBuilder struct {
	desc *Descriptor
}

// Nillable marks the attribute as nullable in storage.
func (b *BoolBuilder) Nillable() *BoolBuilder {
	b.desc.Nillable = true
	return b
}

// Optional marks the attribute as not required at instance creation.
func (b *BoolBuilder) Optional() *BoolBuilder {
	b.desc.Optional = true
	return b
}

// Default sets the literal default value of the attribute.
func (b *BoolBuilder) Default(v bool) *BoolBuilder {
	b.desc.Default = v
	return b
}

// Comment sets the attribute comment.
func (b *BoolBuilder) Comment(c string) *BoolBuilder {
	b.desc.Comment = c
	return b
}

// StorageKey overrides the column name used in storage.
func (b *BoolBuilder) StorageKey(key string) *BoolBuilder {
	b.desc.StorageKey = key
	return b
}

// Descriptor returns the descriptor of the attribute.
func (b *BoolBuilder) Descriptor() *Descriptor {
	return b.desc
}

// TimeBuilder is the builder for time attributes.
type TimeBuilder struct {
	desc *Descriptor
}

// Nillable marks the attribute as nullable in storage.
func (b *TimeBuilder) Nillable() *TimeBuilder {
	b.desc.Nillable = true
	return b
}

// Optional marks the attribute as not required at instance creation.
func (b *TimeBuilder) Optional() *TimeBuilder {
	b.desc.Optional = true
	return b
}

// Immutable marks the attribute as not updatable.
func (b *TimeBuilder) Immutable() *TimeBuilder {
	b.desc.Immutable = true
	return b
}

// Default sets a fixed default value of the attribute. Prefer DefaultFunc
// for time defaults; a literal is frozen at declaration time and shared by
// every instance.
func (b *TimeBuilder) Default(v any) *TimeBuilder {
	b.desc.Default = v
	return b
}

// DefaultFunc sets a default evaluated at instance construction,
// e.g. DefaultFunc(func() any { return time.Now() }).
func (b *TimeBuilder) DefaultFunc(fn func() any) *TimeBuilder {
	b.desc.DefaultFn = fn
	return b
}

// Comment sets the attribute comment.
func (b *TimeBuilder) Comment(c string) *TimeBuilder {
	b.desc.Comment = c
	return b
}

// StorageKey overrides the column name used in storage.
func (b *TimeBuilder) StorageKey(key string) *TimeBuilder {
	b.desc.StorageKey = key
	return b
}

// Descriptor returns the descriptor of the attribute.
func (b *TimeBuilder) Descriptor() *Descriptor {
	return b.desc
}

// UUIDBuilder is the builder for uuid attributes.
type UUIDBuilder struct {
	desc *Descriptor
}

// Nillable marks the attribute as nullable in storage.
func (b *UUIDBuilder) Nillable() *UUIDBuilder {
	b.desc.Nillable = true
	return b
}

// Optional marks the attribute as not required at instance creation.
func (b *UUIDBuilder) Optional() *UUIDBuilder {
	b.desc.Optional = true
	return b
}

// Unique adds a unique constraint on the attribute value.
func (b *UUIDBuilder) Unique() *UUIDBuilder {
	b.desc.Unique = true
	return b
}

// Immutable marks the attribute as not updatable.
func (b *UUIDBuilder) Immutable() *UUIDBuilder {
	b.desc.Immutable = true
	return b
}

// Default sets a generator for the attribute value, evaluated per instance,
// e.g. Default(uuid.New).
func (b *UUIDBuilder) Default(fn func() uuid.UUID) *UUIDBuilder {
	b.desc.DefaultFn = func() any { return fn() }
	return b
}

// Comment sets the attribute comment.
func (b *UUIDBuilder) Comment(c string) *UUIDBuilder {
	b.desc.Comment = c
	return b
}

// StorageKey overrides the column name used in storage.
func (b *UUIDBuilder) StorageKey(key string) *UUIDBuilder {
	b.desc.StorageKey = key
	return b
}

// Descriptor returns the descriptor of the attribute.
func (b *UUIDBuilder) Descriptor() *Descriptor {
	return b.desc
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int:
		return float64(f), true
	case int64:
		return float64(f), true
	default:
		return 0, false
	}
}
