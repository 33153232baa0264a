package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background(), "")
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))

	ctx, same := Ensure(ctx, "")
	assert.Equal(t, id, same)

	_, given := Ensure(ctx, "abc")
	assert.Equal(t, "abc", given)
}

func TestFromContext_Empty(t *testing.T) {
	assert.Equal(t, "", FromContext(context.Background()))
}
