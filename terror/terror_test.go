package terror

import (
	"fmt"
	"testing"

	jujuerrors "github.com/juju/errors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	t.Run("instance matches template", func(t *testing.T) {
		err := ErrBadPage.GenWithPage(7, "cell %d out of range", 3)
		assert.True(t, errors.Is(err, ErrBadPage))
		assert.False(t, errors.Is(err, ErrCorrupt))
		assert.Equal(t, ClassCorrupt, ClassOf(err))
		assert.Equal(t, uint32(7), PageOf(err))
		assert.Contains(t, err.Error(), "page 7")
	})

	t.Run("class survives wrapping", func(t *testing.T) {
		err := errors.Wrapf(ErrIO.Wrap(fmt.Errorf("boom")), "read page %d", 4)
		assert.True(t, IsClass(err, ClassIO))
		assert.False(t, IsClass(err, ClassCorrupt))
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("class survives annotation", func(t *testing.T) {
		err := jujuerrors.Annotatef(ErrBusy.Gen("writer active"), "pc %d", 3)
		err = errors.Wrap(err, "step")
		assert.True(t, IsClass(err, ClassBusy))
		assert.Contains(t, err.Error(), "writer active")

		corrupt := jujuerrors.Trace(ErrBadPage.GenWithPage(9, "bad cell"))
		assert.Equal(t, uint32(9), PageOf(corrupt))
	})

	t.Run("nil is no class", func(t *testing.T) {
		assert.False(t, IsClass(nil, ClassIO))
		assert.Equal(t, ErrClass(0), ClassOf(fmt.Errorf("plain")))
	})
}
