package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRejectsEmptyURL(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNewRejectsInvalidURL(t *testing.T) {
	_, err := New(Options{RedisURL: "://not-a-url"})
	assert.Error(t, err)
}

func TestKeyNamespacing(t *testing.T) {
	c := &Client{namespace: "hybrid"}
	assert.Equal(t, "hybrid:session:abc", c.key("session:abc"))

	c2 := &Client{}
	assert.Equal(t, "session:abc", c2.key("session:abc"))
}
