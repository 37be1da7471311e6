package field_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom/schema/field"
)

func TestInt(t *testing.T) {
	fd := field.Int("age").Positive().Descriptor()
	require.Equal(t, "age", fd.Name)
	require.Equal(t, field.TypeInt, fd.Type)
	require.Len(t, fd.Validators, 1)
	require.Error(t, fd.Validators[0](int64(0)))
	require.NoError(t, fd.Validators[0](int64(1)))

	fd = field.Int("count").Range(1, 10).Descriptor()
	require.Len(t, fd.Validators, 2)
	require.NoError(t, fd.Validators[0](int64(5)))
	require.Error(t, fd.Validators[1](int64(11)))

	fd = field.Int("n").Default(42).Descriptor()
	v, ok := fd.DefaultValue()
	require.True(t, ok)
	require.Equal(t, int64(42), v)
}

func TestFloat(t *testing.T) {
	fd := field.Float("price").Positive().Descriptor()
	require.Equal(t, field.TypeFloat64, fd.Type)
	require.Error(t, fd.Validators[0](float64(0)))
	require.NoError(t, fd.Validators[0](6.50))

	fd = field.Float("ratio").Min(0.5).Max(1.5).Descriptor()
	require.Error(t, fd.Validators[0](0.4))
	require.Error(t, fd.Validators[1](1.6))
	require.NoError(t, fd.Validators[0](1.0))
}

func TestString(t *testing.T) {
	fd := field.String("name").NotEmpty().Descriptor()
	require.Error(t, fd.Validators[0](""))
	require.NoError(t, fd.Validators[0]("a"))

	fd = field.String("code").MinLen(2).MaxLen(4).Descriptor()
	require.Error(t, fd.Validators[0]("a"))
	require.Error(t, fd.Validators[1]("abcde"))
	require.NoError(t, fd.Validators[0]("abc"))

	fd = field.String("state").Default("new").Descriptor()
	v, ok := fd.DefaultValue()
	require.True(t, ok)
	require.Equal(t, "new", v)
}

func TestTimeDefaultFunc(t *testing.T) {
	fd := field.Time("created_at").DefaultFunc(func() any { return time.Now() }).Descriptor()
	v1, ok := fd.DefaultValue()
	require.True(t, ok)
	time.Sleep(time.Millisecond)
	v2, ok := fd.DefaultValue()
	require.True(t, ok)
	// Function defaults evaluate per call.
	require.True(t, v2.(time.Time).After(v1.(time.Time)))
}

func TestUUID(t *testing.T) {
	fd := field.UUID("id").Default(uuid.New).Descriptor()
	require.Equal(t, field.TypeUUID, fd.Type)
	v1, ok := fd.DefaultValue()
	require.True(t, ok)
	v2, _ := fd.DefaultValue()
	require.NotEqual(t, v1, v2)
}

func TestStorageKey(t *testing.T) {
	fd := field.Int("order_id").StorageKey("oid").Descriptor()
	require.Equal(t, "oid", fd.Column())
	fd = field.Int("order_id").Descriptor()
	require.Equal(t, "order_id", fd.Column())
}

func TestTypeString(t *testing.T) {
	require.Equal(t, "int", field.TypeInt.String())
	require.Equal(t, "float64", field.TypeFloat64.String())
	require.True(t, field.TypeInt.Numeric())
	require.False(t, field.TypeString.Numeric())
	require.False(t, field.TypeInvalid.Valid())
}
