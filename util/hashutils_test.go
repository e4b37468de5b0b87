package util

import (
	"testing"

	"github.com/smartystreets/assertions"
)

func TestHashCode(t *testing.T) {
	a := HashCode([]byte("table_1.ibd"))
	b := HashCode([]byte("table_1.ibd"))
	c := HashCode([]byte("table_2.ibd"))
	if ok, msg := assertions.So(a, assertions.ShouldEqual, b); !ok {
		t.Error(msg)
	}
	if ok, msg := assertions.So(a, assertions.ShouldNotEqual, c); !ok {
		t.Error(msg)
	}
	if ok, msg := assertions.So(HashCodes([]byte("table_"), []byte("1.ibd")), assertions.ShouldEqual, a); !ok {
		t.Error(msg)
	}
}
