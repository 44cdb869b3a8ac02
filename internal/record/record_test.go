package record

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"pipekit/internal/errs"
)

func TestGetMissingField(t *testing.T) {
	r := MustNew(F("name", String("a")))

	v, err := r.Get("name")
	require.NoError(t, err)
	require.Equal(t, "a", v.String())

	_, err = r.Get("age")
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.ErrMissingField), "got %v", err)
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	_, err := New(F("a", Int(1)), F("a", Int(2)))
	require.Error(t, err)
}

func TestWithDoesNotMutateReceiver(t *testing.T) {
	orig := MustNew(F("a", Int(1)), F("b", Int(2)))
	changed := orig.With("a", Int(10)).With("c", Int(3))

	require.Equal(t, `{"a":1,"b":2}`, orig.String())
	require.Equal(t, `{"a":10,"b":2,"c":3}`, changed.String())
}

func TestWithoutRenameSelect(t *testing.T) {
	r := MustNew(F("a", Int(1)), F("b", Int(2)), F("c", Int(3)))

	require.Equal(t, `{"a":1,"c":3}`, r.Without("b").String())

	renamed, err := r.Rename("b", "beta")
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"beta":2,"c":3}`, renamed.String())

	_, err = r.Rename("b", "c")
	require.Error(t, err)
	_, err = r.Rename("zz", "y")
	require.True(t, errors.Is(err, errs.ErrMissingField))

	require.Equal(t, `{"c":3,"a":1}`, r.Select("c", "missing", "a").String())
}

func TestLargeRecordUsesIndex(t *testing.T) {
	b := NewBuilder(20)
	for i := 0; i < 20; i++ {
		require.NoError(t, b.Set(string(rune('a'+i)), Int(int64(i))))
	}
	r := b.Build()
	require.NotNil(t, r.index)
	v, ok := r.Lookup("k")
	require.True(t, ok)
	n, _ := v.AsInt()
	require.EqualValues(t, 10, n)
}

func TestCompareTagRank(t *testing.T) {
	ordered := []Value{
		Null(),
		Bool(false),
		Bool(true),
		Int(-5),
		Int(100),
		Float(math.NaN()),
		Float(-1.5),
		Float(0.5),
		String(""),
		String("a"),
		String("b"),
		List(),
		List(Int(1)),
		List(Int(1), Int(2)),
		List(Int(2)),
		Nested(MustNew()),
		Nested(MustNew(F("a", Int(1)))),
	}
	for i := range ordered {
		for j := range ordered {
			got := Compare(ordered[i], ordered[j])
			want := 0
			switch {
			case i < j:
				want = -1
			case i > j:
				want = 1
			}
			require.Equalf(t, want, got, "Compare(%v, %v)", ordered[i], ordered[j])
		}
	}
}

func TestCompareIntBeforeFloatByRank(t *testing.T) {
	require.Equal(t, -1, Compare(Int(5), Float(1.0)))
}

func TestCompareFold(t *testing.T) {
	require.Equal(t, 0, CompareFold(String("Apple"), String("apple")))
	require.Equal(t, -1, CompareFold(String("apple"), String("Banana")))
	require.Equal(t, 1, Compare(String("apple"), String("Banana")))

	require.Equal(t, 0, CompareFold(String("ſ"), String("s")))
	require.Equal(t, -1, CompareFold(String("s"), String("t")))
	require.Equal(t, -1, CompareFold(String("ſ"), String("t")))
	require.Equal(t, 0, CompareFold(String("\u212a"), String("K")), "kelvin sign")
}

func TestCompareFoldIsTotalOrder(t *testing.T) {
	words := []string{"s", "S", "ſ", "t", "T", "k", "\u212a", "ß", "ss", "SS", "é", "É", "e", "z", "straße", "STRASSE", "a\xff", ""}
	vals := make([]Value, len(words))
	for i, w := range words {
		vals[i] = String(w)
	}
	for _, a := range vals {
		for _, b := range vals {
			require.Equal(t, -CompareFold(b, a), CompareFold(a, b), "antisymmetry %q %q", a.s, b.s)
			for _, c := range vals {
				if CompareFold(a, b) <= 0 && CompareFold(b, c) <= 0 {
					require.LessOrEqual(t, CompareFold(a, c), 0, "transitivity %q %q %q", a.s, b.s, c.s)
				}
			}
		}
	}
}

func TestParseJSONPreservesOrderAndTypes(t *testing.T) {
	r, err := ParseJSON([]byte(`{"z":1,"a":2.5,"m":"x","n":null,"b":true,"l":[1,"two"],"o":{"k":3}}`))
	require.NoError(t, err)
	require.Equal(t, []string{"z", "a", "m", "n", "b", "l", "o"}, r.Names())

	kinds := []Kind{KindInt, KindFloat, KindString, KindNull, KindBool, KindList, KindRecord}
	for i, k := range kinds {
		require.Equal(t, k, r.Field(i).Value.Kind(), "field %s", r.Field(i).Name)
	}
	require.Equal(t, `{"z":1,"a":2.5,"m":"x","n":null,"b":true,"l":[1,"two"],"o":{"k":3}}`, r.String())
}

func TestParseJSONErrors(t *testing.T) {
	cases := map[string]string{
		"not json":      `{"a":`,
		"array":         `[1,2]`,
		"scalar":        `42`,
		"trailing":      `{"a":1} {"b":2}`,
		"duplicate key": `{"a":1,"a":2}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJSON([]byte(in))
			var pe *errs.ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
		})
	}
}

func TestFloatJSONKeepsKind(t *testing.T) {
	r := MustNew(F("f", Float(3)), F("nan", Float(math.NaN())))
	require.Equal(t, `{"f":3.0,"nan":"NaN"}`, r.String())

	back, err := ParseJSON([]byte(`{"f":3.0}`))
	require.NoError(t, err)
	require.Equal(t, KindFloat, back.Field(0).Value.Kind())
}

func TestInferValue(t *testing.T) {
	cases := []struct {
		in   string
		want Value
	}{
		{"", Null()},
		{"   ", Null()},
		{"TRUE", Bool(true)},
		{"false", Bool(false)},
		{"42", Int(42)},
		{"-7", Int(-7)},
		{"3.25", Float(3.25)},
		{"1e3", Float(1000)},
		{"nan", String("nan")},
		{"0x1F", String("0x1F")},
		{" hello ", String("hello")},
	}
	for _, c := range cases {
		got := InferValue(c.in)
		require.Truef(t, Equal(c.want, got) && c.want.Kind() == got.Kind(), "InferValue(%q) = %v (%s)", c.in, got, got.Kind())
	}
}

func TestParseDelimited(t *testing.T) {
	h, err := NewHeader([]string{"\ufeffname", " age "})
	require.NoError(t, err)
	require.Equal(t, Header{"name", "age"}, h)

	r, err := ParseDelimited(h, []string{"bob", "41"}, true)
	require.NoError(t, err)
	require.Equal(t, `{"name":"bob","age":41}`, r.String())

	r, err = ParseDelimited(h, []string{"bob", "41"}, false)
	require.NoError(t, err)
	require.Equal(t, `{"name":"bob","age":"41"}`, r.String())

	_, err = ParseDelimited(h, []string{"bob"}, true)
	var pe *errs.ParseError
	require.True(t, errors.As(err, &pe))

	_, err = NewHeader([]string{"a", "a"})
	require.Error(t, err)
}

func TestCBORRoundTrip(t *testing.T) {
	in := []Record{
		MustNew(
			F("z", Int(-3)),
			F("big", Int(math.MaxInt64)),
			F("f", Float(2)),
			F("s", String("héllo")),
			F("n", Null()),
			F("b", Bool(true)),
			F("l", List(Int(1), List(), Nested(MustNew(F("x", String("y")))))),
			F("r", Nested(MustNew(F("b", Int(1)), F("a", Int(2))))),
		),
		MustNew(),
	}
	data, err := EncodeCBOR(in)
	require.NoError(t, err)

	out, err := DecodeCBOR(data)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		require.True(t, EqualRecords(in[i], out[i]), "record %d: got %s want %s", i, out[i], in[i])
		require.Equal(t, in[i].String(), out[i].String())
	}
}

func TestCBORKeepsInvalidUTF8(t *testing.T) {
	in := []Record{MustNew(F("line", String("b\xff")), F("k\xfe", List(String("\xc3"))))}
	data, err := EncodeCBOR(in)
	require.NoError(t, err)

	out, err := DecodeCBOR(data)
	require.NoError(t, err)
	v, _ := out[0].Lookup("line")
	s, _ := v.AsString()
	require.Equal(t, "b\xff", s)
	require.True(t, EqualRecords(in[0], out[0]))
}

func TestSizeGrowsWithContent(t *testing.T) {
	small := MustNew(F("a", String("x")))
	big := MustNew(F("a", String(string(make([]byte, 1000)))))
	require.Greater(t, big.Size(), small.Size()+900)
}
