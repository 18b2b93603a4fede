package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "chronicle/pkg/domain-errors"
)

// =============================================================================
// Token Service Test Suite
// =============================================================================

type TokenSuite struct {
	suite.Suite
	tokens *TokenService
}

func TestTokenSuite(t *testing.T) {
	suite.Run(t, new(TokenSuite))
}

func (s *TokenSuite) SetupTest() {
	s.tokens = NewTokenService("test-signing-key")
}

func (s *TokenSuite) TestRoundTrip() {
	token, err := s.tokens.Generate("u1", "sess-1", true, time.Hour)
	s.Require().NoError(err)

	claims, err := s.tokens.Validate(token)
	s.Require().NoError(err)
	s.Equal("u1", claims.Principal)
	s.Equal("sess-1", claims.SessionID)
	s.True(claims.Admin)
	s.NotEmpty(claims.ID)
}

func (s *TokenSuite) TestValidateRejects() {
	s.Run("expired tokens", func() {
		token, err := s.tokens.Generate("u1", "sess-1", false, -time.Minute)
		s.Require().NoError(err)

		_, err = s.tokens.Validate(token)
		s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	s.Run("tokens signed with another key", func() {
		other := NewTokenService("different-key")
		token, err := other.Generate("u1", "sess-1", false, time.Hour)
		s.Require().NoError(err)

		_, err = s.tokens.Validate(token)
		s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	s.Run("garbage", func() {
		_, err := s.tokens.Validate("not-a-jwt")
		s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
	})
}
