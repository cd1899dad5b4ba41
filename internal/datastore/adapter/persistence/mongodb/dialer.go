package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docgateway/internal/datastore/config"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrAuthentication marks a dial that reached the server but was refused credentials.
var ErrAuthentication = errors.New("authentication failed")

// mongoAuthFailedCode is the server error code for AuthenticationFailed.
const mongoAuthFailedCode = 18

// Dialer opens a client for a connection config.
type Dialer interface {
	Dial(ctx context.Context, cfg *config.ConnectionConfig) (ClientInterface, error)
}

// MongoDialer connects with the official driver and pings the primary.
type MongoDialer struct {
	loggerOptions *options.LoggerOptions
	timeout       time.Duration
}

// NewMongoDialer creates a dialer. loggerOptions may be nil.
func NewMongoDialer(loggerOptions *options.LoggerOptions, timeout time.Duration) *MongoDialer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MongoDialer{loggerOptions: loggerOptions, timeout: timeout}
}

// Dial connects and verifies the server answers.
func (d *MongoDialer) Dial(ctx context.Context, cfg *config.ConnectionConfig) (ClientInterface, error) {
	clientOpts := options.Client().
		ApplyURI(cfg.URI()).
		SetServerSelectionTimeout(d.timeout).
		SetConnectTimeout(d.timeout)
	if d.loggerOptions != nil {
		clientOpts.SetLoggerOptions(d.loggerOptions)
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	client, err := mongo.Connect(dialCtx, clientOpts)
	if err != nil {
		return nil, classifyDialError(err)
	}

	adapter := NewMongoClientAdapter(client)
	if err := adapter.Ping(dialCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, classifyDialError(err)
	}
	return adapter, nil
}

func classifyDialError(err error) error {
	if isAuthError(err) {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return err
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthentication) {
		return true
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == mongoAuthFailedCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "auth error") || strings.Contains(msg, "authentication failed")
}

// connectionStatus is the subset of the connectionStatus reply we read.
type connectionStatus struct {
	AuthInfo struct {
		AuthenticatedUsers []struct {
			User string `bson:"user"`
			DB   string `bson:"db"`
		} `bson:"authenticatedUsers"`
	} `bson:"authInfo"`
}

// authenticate confirms the session is authenticated as creds.User against creds.Source.
func authenticate(ctx context.Context, client ClientInterface, creds *config.Credentials) error {
	var status connectionStatus
	err := client.RunCommand(ctx, creds.Source, bson.D{{Key: "connectionStatus", Value: 1}}).Decode(&status)
	if err != nil {
		if isAuthError(err) {
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		return err
	}
	for _, u := range status.AuthInfo.AuthenticatedUsers {
		if u.User == creds.User && u.DB == creds.Source {
			return nil
		}
	}
	return fmt.Errorf("%w: user %s is not authenticated on %s", ErrAuthentication, creds.User, creds.Source)
}
