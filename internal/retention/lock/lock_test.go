package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"chronicle/pkg/platform/sentinel"
)

// =============================================================================
// In-Process Lock Test Suite
// =============================================================================

type InProcessSuite struct {
	suite.Suite
	manager *InProcess
	ctx     context.Context
}

func TestInProcessSuite(t *testing.T) {
	suite.Run(t, new(InProcessSuite))
}

func (s *InProcessSuite) SetupTest() {
	s.manager = NewInProcess()
	s.ctx = context.Background()
}

func (s *InProcessSuite) TestTryAcquire() {
	s.Run("second acquire of a held lock fails fast", func() {
		release, err := s.manager.TryAcquire(s.ctx, "sweep:orders", time.Minute)
		s.Require().NoError(err)
		defer release(s.ctx)

		_, err = s.manager.TryAcquire(s.ctx, "sweep:orders", time.Minute)
		s.ErrorIs(err, sentinel.ErrLockHeld)
	})

	s.Run("different names do not contend", func() {
		releaseA, err := s.manager.TryAcquire(s.ctx, "sweep:orders", time.Minute)
		s.Require().NoError(err)
		defer releaseA(s.ctx)

		releaseB, err := s.manager.TryAcquire(s.ctx, "sweep:customers", time.Minute)
		s.Require().NoError(err)
		defer releaseB(s.ctx)
	})

	s.Run("release makes the lock available again", func() {
		release, err := s.manager.TryAcquire(s.ctx, "sweep:orders", time.Minute)
		s.Require().NoError(err)
		s.Require().NoError(release(s.ctx))

		release, err = s.manager.TryAcquire(s.ctx, "sweep:orders", time.Minute)
		s.Require().NoError(err)
		s.NoError(release(s.ctx))
	})

	s.Run("release is idempotent", func() {
		releaseFirst, err := s.manager.TryAcquire(s.ctx, "sweep:orders", time.Minute)
		s.Require().NoError(err)
		s.Require().NoError(releaseFirst(s.ctx))

		releaseSecond, err := s.manager.TryAcquire(s.ctx, "sweep:orders", time.Minute)
		s.Require().NoError(err)

		// The stale release from the first lease must not free the second.
		s.Require().NoError(releaseFirst(s.ctx))
		_, err = s.manager.TryAcquire(s.ctx, "sweep:orders", time.Minute)
		s.ErrorIs(err, sentinel.ErrLockHeld)

		s.NoError(releaseSecond(s.ctx))
	})

	s.Run("exactly one of many concurrent acquirers wins", func() {
		var wg sync.WaitGroup
		var mu sync.Mutex
		var releases []ReleaseFunc
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, err := s.manager.TryAcquire(s.ctx, "sweep:race", time.Minute)
				if err == nil {
					mu.Lock()
					releases = append(releases, release)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		s.Require().Len(releases, 1)
		s.NoError(releases[0](s.ctx))
	})
}
