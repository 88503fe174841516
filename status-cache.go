package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	log "github.com/sirupsen/logrus"
)

// StatusCache keeps recent vehicle snapshots for the REST surface so
// repeated reads within the eviction window do not hit the cloud.
// Command polling never reads from here.
type StatusCache struct {
	cache *bigcache.BigCache
}

var _statusCacheInstance *StatusCache
var _statusCacheOnce sync.Once

func GetStatusCache() *StatusCache {
	_statusCacheOnce.Do(func() {
		cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(30*time.Second))
		if err != nil {
			log.Fatalf("could not init status cache: %v", err)
		}
		_statusCacheInstance = &StatusCache{cache: cache}
	})
	return _statusCacheInstance
}

func (c *StatusCache) Get(vin string) *VehicleStatus {
	data, err := c.cache.Get(vin)
	if err != nil {
		return nil
	}
	status := &VehicleStatus{}
	if err := json.Unmarshal(data, status); err != nil {
		return nil
	}
	status.Raw = data
	return status
}

func (c *StatusCache) Set(vin string, status *VehicleStatus) {
	if status == nil {
		return
	}
	data := status.Raw
	if data == nil {
		var err error
		data, err = json.Marshal(status)
		if err != nil {
			return
		}
	}
	if err := c.cache.Set(vin, data); err != nil {
		log.Warnf("could not cache status for %s: %v", vin, err)
	}
}

func (c *StatusCache) Invalidate(vin string) {
	c.cache.Delete(vin)
}

func (c *StatusCache) Reset() {
	c.cache.Reset()
}
