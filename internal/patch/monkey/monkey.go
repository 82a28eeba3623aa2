package monkey

import (
	"errors"
	"reflect"
	"testing"

	"github.com/bouk/monkey"
	"github.com/stretchr/testify/require"
)

// PatchGuard is a type alias.
type PatchGuard = monkey.PatchGuard

// ErrMonkey is used to return an error in patch function.
var ErrMonkey = errors.New("monkey error")

// IsMonkeyError is used to confirm err is ErrMonkey.
func IsMonkeyError(t testing.TB, err error) {
	require.Equal(t, ErrMonkey, err)
}

// Patch is a wrapper about monkey.Patch.
func Patch(target, replacement interface{}) *PatchGuard {
	return monkey.Patch(target, replacement)
}

// PatchInstanceMethod will add reflect.TypeOf(target).
func PatchInstanceMethod(target interface{}, method string, replacement interface{}) *PatchGuard {
	return monkey.PatchInstanceMethod(reflect.TypeOf(target), method, replacement)
}
