/*
File: sharded_singleflight.go
Version: 2.0.0
Description: singleflight.Group split over hashed shards so unrelated URLs never contend
             on the same mutex. Used to score identical concurrent requests once.
*/

package main

import (
	"hash/maphash"

	"golang.org/x/sync/singleflight"
)

const shardedFlightCount = 256

type ShardedGroup struct {
	shards [shardedFlightCount]singleflight.Group
	seed   maphash.Seed
}

func NewShardedGroup() *ShardedGroup {
	return &ShardedGroup{seed: maphash.MakeSeed()}
}

func (g *ShardedGroup) shard(key string) *singleflight.Group {
	return &g.shards[maphash.String(g.seed, key)&(shardedFlightCount-1)]
}

// DoChan joins (or leads) the flight for key and returns its result channel.
func (g *ShardedGroup) DoChan(key string, fn func() (interface{}, error)) <-chan singleflight.Result {
	return g.shard(key).DoChan(key, fn)
}
