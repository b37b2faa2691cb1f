// Copyright 2016 PingCAP, Inc.
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
	"bytes"

	"github.com/google/btree"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

var _ btree.Item = &chunkItem{}

type chunkItem struct {
	chunk *ChunkInfo
}

// Less returns true if the chunk min key is less than the other.
func (r *chunkItem) Less(other btree.Item) bool {
	left := r.chunk.GetMinKey()
	right := other.(*chunkItem).chunk.GetMinKey()
	return bytes.Compare(left, right) < 0
}

func (r *chunkItem) Contains(key []byte) bool {
	return r.chunk.ContainsKey(key)
}

const (
	defaultBTreeDegree = 64
)

type chunkTree struct {
	tree *btree.BTree
}

func newChunkTree() *chunkTree {
	return &chunkTree{
		tree: btree.New(defaultBTreeDegree),
	}
}

func searchItem(key []byte) *chunkItem {
	return &chunkItem{chunk: &ChunkInfo{minKey: key}}
}

func (t *chunkTree) length() int {
	return t.tree.Len()
}

// clone returns a copy of the tree. Chunks are shared, they are read-only.
func (t *chunkTree) clone() *chunkTree {
	return &chunkTree{tree: t.tree.Clone()}
}

// getOverlaps gets the chunks which are overlapped with the specified chunk range.
func (t *chunkTree) getOverlaps(chunk *ChunkInfo) []*ChunkInfo {
	item := &chunkItem{chunk: chunk}

	// note that find() gets the last item that is less or equal than the chunk.
	// in the case: |_______a_______|_____b_____|___c___|
	// new chunk is     |______d______|
	// find() will return chunkItem of chunk_a
	// and both min keys of chunk_a and chunk_b are less than max key of chunk_d,
	// thus they are regarded as overlapped chunks.
	result := t.find(chunk.GetMinKey())
	if result == nil {
		result = item
	}

	var overlaps []*ChunkInfo
	t.tree.AscendGreaterOrEqual(result, func(i btree.Item) bool {
		over := i.(*chunkItem)
		if bytes.Compare(chunk.GetMaxKey(), over.chunk.GetMinKey()) <= 0 {
			return false
		}
		overlaps = append(overlaps, over.chunk)
		return true
	})
	return overlaps
}

// update updates the tree with the chunk.
// It finds and deletes all the overlapped chunks first, and then
// insert the chunk.
func (t *chunkTree) update(chunk *ChunkInfo) []*ChunkInfo {
	overlaps := t.getOverlaps(chunk)
	for _, item := range overlaps {
		log.Debug("overlapping chunk",
			zap.Stringer("delete-chunk", item),
			zap.Stringer("update-chunk", chunk))
		t.tree.Delete(&chunkItem{item})
	}

	t.tree.ReplaceOrInsert(&chunkItem{chunk: chunk})

	return overlaps
}

// search returns the chunk that contains the key.
func (t *chunkTree) search(key []byte) *ChunkInfo {
	result := t.find(key)
	if result == nil {
		return nil
	}
	return result.chunk
}

// find is a helper function to find an item that contains the key.
func (t *chunkTree) find(key []byte) *chunkItem {
	item := searchItem(key)

	var result *chunkItem
	t.tree.DescendLessOrEqual(item, func(i btree.Item) bool {
		result = i.(*chunkItem)
		return false
	})

	if result == nil || !result.Contains(key) {
		return nil
	}

	return result
}

// scanRange scans from the first chunk containing or behind the min key
// until f return false
func (t *chunkTree) scanRange(minKey []byte, f func(*ChunkInfo) bool) {
	// find if there is a chunk with key range [s, d), s < minKey < d
	startItem := t.find(minKey)
	if startItem == nil {
		startItem = searchItem(minKey)
	}
	t.tree.AscendGreaterOrEqual(startItem, func(item btree.Item) bool {
		return f(item.(*chunkItem).chunk)
	})
}

// ascend calls f for every chunk in key order until f returns false.
func (t *chunkTree) ascend(f func(*ChunkInfo) bool) {
	t.tree.Ascend(func(item btree.Item) bool {
		return f(item.(*chunkItem).chunk)
	})
}
