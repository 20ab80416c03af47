package errorclass

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/verity-dq/verity/internal/errors"
)

func TestClassify(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Equal(t, "none", Classify(nil))
	})

	t.Run("app errors classify by code", func(t *testing.T) {
		assert.Equal(t, "timeout", Classify(apperrors.Timeout("query deadline")))
		assert.Equal(t, "upstream", Classify(apperrors.Upstream("warehouse down")))
		assert.Equal(t, "not_found", Classify(apperrors.NotFound("missing")))
	})

	t.Run("wrapped app errors still classify by code", func(t *testing.T) {
		err := fmt.Errorf("run rule: %w", apperrors.Validation("bad operator"))
		assert.Equal(t, "validation", Classify(err))
	})

	t.Run("plain errors classify by innermost type", func(t *testing.T) {
		assert.Equal(t, "error_string", Classify(errors.New("boom")))
		assert.Equal(t, "error_string", Classify(fmt.Errorf("outer: %w", errors.New("boom"))))
	})

	t.Run("net errors", func(t *testing.T) {
		inner := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
		err := fmt.Errorf("connect: %w", inner)
		assert.Equal(t, "error_string", Classify(err), "unwraps to the deepest error")
	})
}
