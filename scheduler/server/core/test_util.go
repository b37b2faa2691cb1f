// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"github.com/pingcap-incubator/tinydoc/pkg/keystring"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// KeyDoc returns the shard key document {field: v}.
func KeyDoc(field string, v interface{}) bson.Raw {
	raw, err := bson.Marshal(bson.D{{Key: field, Value: v}})
	if err != nil {
		panic(err)
	}
	return raw
}

// NewTestChunks splits the key space of {field: 1} at points and hands the
// chunks out to shards round robin. Chunk i gets version 1|i.
func NewTestChunks(field string, epoch primitive.ObjectID, points []int32, shards ...ShardID) []ChunkType {
	pattern := bson.D{{Key: field, Value: 1}}
	bounds := make([]bson.Raw, 0, len(points)+2)
	bounds = append(bounds, keystring.GlobalMin(pattern))
	for _, p := range points {
		bounds = append(bounds, KeyDoc(field, p))
	}
	bounds = append(bounds, keystring.GlobalMax(pattern))

	chunks := make([]ChunkType, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		chunks = append(chunks, ChunkType{
			ID:    primitive.NewObjectID(),
			Min:   bounds[i],
			Max:   bounds[i+1],
			Shard: shards[i%len(shards)],
			Version: ChunkVersion{
				Major:     1,
				Minor:     uint32(i),
				Epoch:     epoch,
				Timestamp: primitive.Timestamp{T: 1},
			},
		})
	}
	return chunks
}
