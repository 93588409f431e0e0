package middleware

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type orderQuery struct {
	Tenant string `json:"tenant"`
	ID     int    `json:"id"`
}

type keyedQuery struct {
	Tenant string
}

func (q keyedQuery) CacheKey() string { return "tenant=" + q.Tenant }

type unserializable struct {
	Fn func()
}

type KeySuite struct {
	suite.Suite
}

func TestKeySuite(t *testing.T) {
	suite.Run(t, new(KeySuite))
}

const orderQueryName = "github.com/bjaus/mediator/middleware.orderQuery"

func (s *KeySuite) TestDefaultKeyUsesWholeMessage() {
	key, err := DefaultKey(orderQuery{Tenant: "acme", ID: 7})

	s.Require().NoError(err)
	s.Assert().Equal(orderQueryName+`:{"tenant":"acme","id":7}`, key)
}

func (s *KeySuite) TestDefaultKeyDiffersByValue() {
	a, err := DefaultKey(orderQuery{Tenant: "acme", ID: 7})
	s.Require().NoError(err)
	b, err := DefaultKey(orderQuery{Tenant: "acme", ID: 8})
	s.Require().NoError(err)

	s.Assert().NotEqual(a, b)
}

func (s *KeySuite) TestCacheKeyerWins() {
	key, err := KeyFor(keyedQuery{Tenant: "acme"}, "Tenant")

	s.Require().NoError(err)
	s.Assert().Equal("github.com/bjaus/mediator/middleware.keyedQuery:tenant=acme", key)
}

func (s *KeySuite) TestKeyPaths() {
	tests := map[string]struct {
		paths []string
		want  string
	}{
		"single path":  {[]string{"tenant"}, orderQueryName + `:"acme"`},
		"two paths":    {[]string{"tenant", "id"}, orderQueryName + `:"acme":7`},
		"missing path": {[]string{"tenant", "missing"}, orderQueryName + `:"acme":`},
	}

	for name, tt := range tests {
		s.Run(name, func() {
			key, err := KeyPaths(tt.paths...)(orderQuery{Tenant: "acme", ID: 7})
			s.Require().NoError(err)
			s.Assert().Equal(tt.want, key)
		})
	}
}

func (s *KeySuite) TestUnserializableMessageFails() {
	_, err := DefaultKey(unserializable{Fn: func() {}})

	s.Assert().Error(err)
}
