package server

import (
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/presence/internal/backplane"
	"github.com/Tyrowin/presence/internal/directory"
)

// NewGatewayFromConfig builds the directory store and the backplane named by
// cfg and returns a Gateway over them. When both use Redis they share one
// client, which the directory store closes.
func NewGatewayFromConfig(cfg Config) (*Gateway, error) {
	store, redisClient, err := newStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	bp, err := newBackplane(cfg, redisClient)
	if err != nil {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("Error closing directory store: %v", closeErr)
		}
		return nil, err
	}

	log.Printf("Gateway %s using %s store and %s backplane", cfg.NodeID, cfg.Store.Driver, cfg.Backplane.Driver)
	return NewGateway(cfg, directory.New(store), bp), nil
}

func newStore(cfg StoreConfig) (directory.Store, redis.UniversalClient, error) {
	switch cfg.Driver {
	case StoreMemory:
		return directory.NewMemoryStore(), nil, nil
	case StoreRedis:
		store := directory.NewRedisStore(directory.NewRedisClient(cfg.Redis))
		return store, store.Client(), nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newBackplane(cfg Config, shared redis.UniversalClient) (backplane.Backplane, error) {
	switch cfg.Backplane.Driver {
	case BackplaneLocal:
		return backplane.NewLocal(), nil

	case BackplaneRedis:
		if shared != nil {
			return backplane.NewRedis(shared, cfg.Backplane.Channel), nil
		}
		client := directory.NewRedisClient(cfg.Store.Redis)
		return &ownedRedisBackplane{
			Redis:  backplane.NewRedis(client, cfg.Backplane.Channel),
			client: client,
		}, nil

	case BackplaneNATS:
		conn, err := backplane.ConnectNATS(cfg.Backplane.NATSURL, "presence-"+cfg.NodeID)
		if err != nil {
			return nil, err
		}
		return backplane.NewNATS(conn, cfg.Backplane.Channel, true), nil

	default:
		return nil, fmt.Errorf("unknown backplane driver %q", cfg.Backplane.Driver)
	}
}

// ownedRedisBackplane closes its own client, for deployments where the
// directory store is not Redis.
type ownedRedisBackplane struct {
	*backplane.Redis
	client redis.UniversalClient
}

func (b *ownedRedisBackplane) Close() error {
	return errors.Join(b.Redis.Close(), b.client.Close())
}
