package log

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type namedThing struct{ name string }

func (n namedThing) Name() string { return n.name }

func TestMarshalOrderedJSONOrdersKeys(t *testing.T) {
	var b strings.Builder
	err := marshalOrderedJSON(&b, map[string]interface{}{"z": 1, "a": 2})
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"z":1}`, b.String())
}

func TestMarshalOrderedJSONRendersNamedByName(t *testing.T) {
	var b strings.Builder
	err := marshalOrderedJSON(&b, map[string]interface{}{"folder": namedThing{name: "INBOX"}})
	require.NoError(t, err)
	require.Equal(t, `{"folder":"INBOX"}`, b.String())
}
