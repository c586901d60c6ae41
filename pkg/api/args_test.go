package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/perdura/perdura/pkg/api"
)

func TestArgsSet(t *testing.T) {
	var args api.Args
	updated := args.Set("name", "value")
	assert.Nil(t, args)
	assert.Equal(t, "value", updated.GetString("name", ""))

	next := updated.Set("count", 2)
	assert.Equal(t, 2, next.GetInt("count", 0))
	_, ok := updated["count"]
	assert.False(t, ok)
}

func TestArgsGetters(t *testing.T) {
	args := api.Args{
		"str":   "hello",
		"int":   3,
		"float": float64(7),
		"bool":  true,
	}

	assert.Equal(t, "hello", args.GetString("str", "d"))
	assert.Equal(t, "d", args.GetString("missing", "d"))
	assert.Equal(t, "d", args.GetString("int", "d"))
	assert.Equal(t, 3, args.GetInt("int", 0))
	assert.Equal(t, 7, args.GetInt("float", 0))
	assert.Equal(t, 9, args.GetInt("str", 9))
	assert.True(t, args.GetBool("bool", false))
	assert.False(t, args.GetBool("missing", false))
}

func TestArgsHashKey(t *testing.T) {
	first, err := api.Args{"b": 2, "a": 1}.HashKey()
	assert.NoError(t, err)

	second, err := api.Args{"a": 1, "b": 2}.HashKey()
	assert.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	empty, err := api.Args{}.HashKey()
	assert.NoError(t, err)
	assert.NotEqual(t, first, empty)

	var nilArgs api.Args
	nilHash, err := nilArgs.HashKey()
	assert.NoError(t, err)
	assert.Equal(t, empty, nilHash)
}
