package keyutil

import "reflect"

// DeepEqual reports whether a and b are structurally equal.
// reflect.DeepEqual already treats maps as order-independent, which is
// exactly the structural equality an identity-stable insert needs:
// inserting x then inserting an x' that is deep-equal to x must not
// replace the cached reference.
func DeepEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
