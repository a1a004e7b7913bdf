package flatten

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	v, err := jsonvalue.Decode([]byte(s))
	require.NoError(t, err)
	return v
}

func TestFlattenNestedWithExceptKeys(t *testing.T) {
	doc := decode(t, `{
		"a": 1,
		"b": {"a": 2, "b": {"a": 3}, "c": {"a": "bacon", "b": "yum"}},
		"c": [{"foo": "bar"}, {"eggs": "spam"}],
		"d": [4, 5],
		"e.-f": 6
	}`)

	rec, err := Flatten(doc, NewExceptSet([]string{"b_c"}))
	require.NoError(t, err)

	assert.Equal(t, Record{
		"a":     int64(1),
		"b_a":   int64(2),
		"b_b_a": int64(3),
		"b_c":   `{"a":"bacon","b":"yum"}`,
		"c":     `[{"foo":"bar"},{"eggs":"spam"}]`,
		"d":     `[4,5]`,
		"e__f":  int64(6),
	}, rec)
}

func TestFlattenMetaKey(t *testing.T) {
	rec, err := Flatten(decode(t, `{"meta": {"lastUpdated": "2024-01-01T00:00:00Z", "versionId": "3"}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z", rec["meta_lastUpdated"])
	assert.Equal(t, "3", rec["meta_versionId"])
}

func TestFlattenScalarsPreserveType(t *testing.T) {
	rec, err := Flatten(decode(t, `{"i": 1, "f": 2.5, "b": false, "s": "x", "n": null}`), nil)
	require.NoError(t, err)

	assert.Equal(t, jsonvalue.Integer, jsonvalue.KindOf(rec["i"]))
	assert.Equal(t, jsonvalue.Number, jsonvalue.KindOf(rec["f"]))
	assert.Equal(t, jsonvalue.Bool, jsonvalue.KindOf(rec["b"]))
	assert.Equal(t, jsonvalue.String, jsonvalue.KindOf(rec["s"]))
	assert.Contains(t, rec, "n")
	assert.Nil(t, rec["n"])
}

func TestFlattenEmptyContainers(t *testing.T) {
	rec, err := Flatten(decode(t, `{"o": {}, "a": [], "nested": {"inner": {}}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, Record{"o": "{}", "a": "[]", "nested_inner": "{}"}, rec)

	empty, err := Flatten(map[string]any{}, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFlattenIdempotentOnFlatInput(t *testing.T) {
	flat := decode(t, `{"id": 7, "name": "x", "score": 1.5, "ok": true, "missing": null}`)

	once, err := Flatten(flat, nil)
	require.NoError(t, err)
	assert.Equal(t, Record(flat.(map[string]any)), once)

	twice, err := Flatten(map[string]any(once), nil)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestFlattenNoNestedContainersRemain(t *testing.T) {
	docs := []string{
		`{"a": {"b": {"c": [1, {"d": 2}]}}, "e": [[1], [2]], "f": {"g": {}}}`,
		`{"x": [{"y": [1, 2]}], "z": {"w": {"v": {"u": null}}}}`,
		`{"tags": ["a", "b", "c"], "owner": {"tags": ["d"]}}`,
	}
	excepts := [][]string{nil, {"z_w"}, {"owner"}}

	for i, s := range docs {
		doc := decode(t, s)
		for _, ex := range excepts {
			rec, err := Flatten(doc, NewExceptSet(ex))
			require.NoError(t, err)
			for k, v := range rec {
				kind := jsonvalue.KindOf(v)
				assert.False(t, kind.IsContainer(), "doc %d key %s holds a container", i, k)
			}
		}
	}
}

func TestFlattenTopLevelArraysMapOneToOne(t *testing.T) {
	doc := decode(t, `{"tags": ["a", "b"], "ids": [1, 2, 3], "name": "n"}`)
	rec, err := Flatten(doc, nil)
	require.NoError(t, err)

	assert.Len(t, rec, 3)
	assert.Equal(t, `["a","b"]`, rec["tags"])
	assert.Equal(t, `[1,2,3]`, rec["ids"])
}

func TestFlattenArrayInExceptSetStillSingleLeaf(t *testing.T) {
	rec, err := Flatten(decode(t, `{"tags": ["a"]}`), NewExceptSet([]string{"tags"}))
	require.NoError(t, err)
	assert.Equal(t, Record{"tags": `["a"]`}, rec)
}

func TestFlattenExceptMatchesTranslatedKey(t *testing.T) {
	rec, err := Flatten(decode(t, `{"user-info": {"a": 1}}`), NewExceptSet([]string{"user_info"}))
	require.NoError(t, err)
	assert.Equal(t, Record{"user_info": `{"a":1}`}, rec)
}

func TestFlattenDeterministic(t *testing.T) {
	doc := decode(t, `{"z": {"y": [3, 2, 1], "x": {"b": 1, "a": 2}}}`)
	first, err := Flatten(doc, NewExceptSet([]string{"z_x"}))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Flatten(doc, NewExceptSet([]string{"z_x"}))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, `{"a":2,"b":1}`, first["z_x"])
}

func TestFlattenRejectsNonObject(t *testing.T) {
	_, err := Flatten(decode(t, `[1, 2]`), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestFlattenCollidingKeysAreStable(t *testing.T) {
	doc := decode(t, `{"a_b": 1, "a": {"b": 2}, "a-b": 3}`)

	first, err := Flatten(doc, nil)
	require.NoError(t, err)
	assert.Equal(t, Record{"a_b": int64(1)}, first)

	for i := 0; i < 100; i++ {
		rec, err := Flatten(doc, nil)
		require.NoError(t, err)
		require.Equal(t, first, rec)
	}
}
