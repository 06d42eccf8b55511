package file

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectURI(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/shots/1/a.jpg", ObjectURI("https://cdn.example.com/shots", "shots", "1/a.jpg"))
	assert.Equal(t, "s3://shots/1/a.jpg", ObjectURI("", "shots", "1/a.jpg"))
}
