package log

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
)

// LoggerTestSuite tests the logger package.
type LoggerTestSuite struct {
	suite.Suite
}

func (s *LoggerTestSuite) TestGoroutineID() {
	id := goroutineID()
	s.NotEmpty(id)
	s.NotEqual("unknown", id)
	for _, c := range id {
		s.True(c >= '0' && c <= '9', "goroutine id must be numeric, got %q", id)
	}
}

func (s *LoggerTestSuite) TestEventConstructors() {
	s.NotNil(Info())
	s.NotNil(Warn())
	s.NotNil(Error())
}

func (s *LoggerTestSuite) TestSetDebugMode() {
	// At the default info level zerolog suppresses debug events entirely.
	s.Nil(Debug())
	SetDebugMode()
	s.Equal(zerolog.DebugLevel, Logger.GetLevel())
	s.NotNil(Debug())
}

func (s *LoggerTestSuite) TestWithComponent() {
	scoped := With("storage")
	s.NotNil(scoped)
}

func TestLoggerTestSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}
