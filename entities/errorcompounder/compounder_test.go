//  _   _     _                                _
// | |_(_) __| | ___ _ __ ___   __ _ _ __| | __
// | __| |/ _` |/ _ \ '_ ` _ \ / _` | '__| |/ /
// | |_| | (_| |  __/ | | | | | (_| | |  |   <
//  \__|_|\__,_|\___|_| |_| |_|\__,_|_|  |_|\_\
//
//  Copyright © 2026 Tidemark B.V. All rights reserved.
//
//  CONTACT: hello@tidemark.io
//

package errorcompounder

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCompounder(t *testing.T) {
	t.Run("empty compounder yields nil", func(t *testing.T) {
		ec := New()
		assert.Nil(t, ec.ToError())
		assert.Nil(t, ec.First())
		assert.Zero(t, ec.Len())
	})

	t.Run("nil adds are ignored", func(t *testing.T) {
		ec := New()
		ec.Add(nil)
		ec.AddWrap(nil, "ignored")
		assert.Nil(t, ec.ToError())
	})

	t.Run("single error passes through unchanged", func(t *testing.T) {
		ec := New()
		sentinel := errors.New("boom")
		ec.Add(sentinel)
		assert.Equal(t, sentinel, ec.ToError())
	})

	t.Run("multiple errors are joined", func(t *testing.T) {
		ec := New()
		ec.Addf("first: %d", 1)
		ec.Add(errors.New("second"))
		err := ec.ToError()
		assert.Contains(t, err.Error(), "first: 1")
		assert.Contains(t, err.Error(), "second")
		assert.Equal(t, 2, ec.Len())
	})

	t.Run("wrap keeps the cause", func(t *testing.T) {
		ec := New()
		sentinel := errors.New("boom")
		ec.AddWrap(sentinel, "context")
		assert.True(t, errors.Is(ec.First(), sentinel))
	})

	t.Run("concurrent adds are safe", func(t *testing.T) {
		ec := New()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ec.Addf("worker error")
			}()
		}
		wg.Wait()
		assert.Equal(t, 50, ec.Len())
	})
}
