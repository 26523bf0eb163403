package gqlwatch

import (
	"github.com/sirupsen/logrus"

	"github.com/gqlwatch/gqlwatch/transport"
)

// Config defines the transport and other parameters for a client.
type Config struct {
	// Transport executes the client's operations. Required.
	Transport transport.Transport

	// If not given, logrus.StandardLogger() is used.
	Logger logrus.FieldLogger
}
