// Copyright 2022 PingCAP, Inc.
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

// Package keystring encodes BSON shard key documents into byte strings whose
// bytewise order matches the order of the documents' values. Field names are
// ignored: two keys of the same shard key pattern compare element by element.
package keystring

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/pingcap/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	signMask uint64 = 0x8000000000000000

	encGroupSize = 8
	encMarker    = byte(0xFF)
	encPad       = byte(0x0)

	endMarker  = byte(0x0)
	elemMarker = byte(0x1)

	twoTo63 = float64(1 << 63)
)

// Canonical type classes. Values of different classes order by class.
const (
	classMinKey    byte = 10
	classNull      byte = 20
	classNumber    byte = 30
	classString    byte = 40
	classObject    byte = 50
	classArray     byte = 60
	classBinary    byte = 70
	classObjectID  byte = 80
	classBool      byte = 90
	classDate      byte = 100
	classTimestamp byte = 110
	classRegex     byte = 120
	classMaxKey    byte = 240
)

var pads = make([]byte, encGroupSize)

// Encode returns the order-preserving encoding of the values of doc.
func Encode(doc bson.Raw) ([]byte, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, errors.Annotate(err, "invalid shard key document")
	}
	key := make([]byte, 0, len(doc)+len(elems)*2)
	for _, elem := range elems {
		key, err = appendValue(key, elem.Value())
		if err != nil {
			return nil, errors.Annotatef(err, "field %q", elem.Key())
		}
	}
	return key, nil
}

// MustEncode is like Encode but panics on malformed input.
func MustEncode(doc bson.Raw) []byte {
	key, err := Encode(doc)
	if err != nil {
		panic(err)
	}
	return key
}

func appendValue(key []byte, v bson.RawValue) ([]byte, error) {
	switch v.Type {
	case bsontype.MinKey:
		return append(key, classMinKey), nil
	case bsontype.MaxKey:
		return append(key, classMaxKey), nil
	case bsontype.Null, bsontype.Undefined:
		return append(key, classNull), nil
	case bsontype.Int32:
		return appendNumber(append(key, classNumber), float64(v.Int32()), 0), nil
	case bsontype.Int64:
		f, rest := splitInt64(v.Int64())
		return appendNumber(append(key, classNumber), f, rest), nil
	case bsontype.Double:
		return appendNumber(append(key, classNumber), v.Double(), 0), nil
	case bsontype.Decimal128:
		f, err := strconv.ParseFloat(v.Decimal128().String(), 64)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return appendNumber(append(key, classNumber), f, 0), nil
	case bsontype.String:
		return append(append(key, classString), EncodeBytes([]byte(v.StringValue()))...), nil
	case bsontype.Symbol:
		return append(append(key, classString), EncodeBytes([]byte(v.Symbol()))...), nil
	case bsontype.EmbeddedDocument:
		return appendDocument(append(key, classObject), v.Document())
	case bsontype.Array:
		return appendArray(append(key, classArray), v.Array())
	case bsontype.Binary:
		subtype, data := v.Binary()
		key = append(key, classBinary)
		key = appendUint32(key, uint32(len(data)))
		key = append(key, subtype)
		return append(key, EncodeBytes(data)...), nil
	case bsontype.ObjectID:
		oid := v.ObjectID()
		return append(append(key, classObjectID), oid[:]...), nil
	case bsontype.Boolean:
		b := byte(0)
		if v.Boolean() {
			b = 1
		}
		return append(key, classBool, b), nil
	case bsontype.DateTime:
		return appendInt64(append(key, classDate), v.DateTime()), nil
	case bsontype.Timestamp:
		t, i := v.Timestamp()
		key = appendUint32(append(key, classTimestamp), t)
		return appendUint32(key, i), nil
	case bsontype.Regex:
		pattern, options := v.Regex()
		key = append(append(key, classRegex), EncodeBytes([]byte(pattern))...)
		return append(key, EncodeBytes([]byte(options))...), nil
	}
	return nil, errors.Errorf("unsupported shard key type %s", v.Type)
}

// appendDocument encodes the elements of doc in order, each as its field
// name followed by its value. A document that is a prefix of another sorts
// first.
func appendDocument(key []byte, doc bson.Raw) ([]byte, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, elem := range elems {
		key = append(append(key, elemMarker), EncodeBytes([]byte(elem.Key()))...)
		if key, err = appendValue(key, elem.Value()); err != nil {
			return nil, errors.Annotatef(err, "field %q", elem.Key())
		}
	}
	return append(key, endMarker), nil
}

func appendArray(key []byte, arr bson.Raw) ([]byte, error) {
	values, err := arr.Values()
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, v := range values {
		if key, err = appendValue(append(key, elemMarker), v); err != nil {
			return nil, err
		}
	}
	return append(key, endMarker), nil
}

// splitInt64 returns the largest float64 not above v and the distance from
// it to v. Above 2^53 the distance is below 2^11.
func splitInt64(v int64) (float64, uint16) {
	f := float64(v)
	if f >= twoTo63 || int64(f) > v {
		f = math.Nextafter(f, math.Inf(-1))
	}
	return f, uint16(v - int64(f))
}

// appendNumber encodes f followed by the integer remainder rest, so that
// NaN sorts first and -0 equals 0.
func appendNumber(key []byte, f float64, rest uint16) []byte {
	var u uint64
	switch {
	case math.IsNaN(f):
		u = 0
	case f == 0:
		u = signMask
	case f > 0:
		u = math.Float64bits(f) | signMask
	default:
		u = ^math.Float64bits(f)
	}
	key = appendUint64(key, u)
	return append(key, byte(rest>>8), byte(rest))
}

func appendInt64(key []byte, v int64) []byte {
	return appendUint64(key, uint64(v)^signMask)
}

func appendUint64(key []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(key, buf[:]...)
}

func appendUint32(key []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(key, buf[:]...)
}

// EncodeBytes guarantees the encoded value is in ascending order for comparison,
// encoding with the following rule:
//
//	[group1][marker1]...[groupN][markerN]
//	group is 8 bytes slice which is padding with 0.
//	marker is `0xFF - padding 0 count`
//
// Refer: https://github.com/facebook/mysql-5.6/wiki/MyRocks-record-format#memcomparable-format
func EncodeBytes(data []byte) []byte {
	dLen := len(data)
	result := make([]byte, 0, (dLen/encGroupSize+1)*(encGroupSize+1))
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			result = append(result, data[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			result = append(result, data[idx:]...)
			result = append(result, pads[:padCount]...)
		}

		marker := encMarker - byte(padCount)
		result = append(result, marker)
	}
	return result
}

// DecodeBytes decodes bytes which is encoded by EncodeBytes before,
// returns the leftover bytes and decoded value if no error.
func DecodeBytes(b []byte) ([]byte, []byte, error) {
	data := make([]byte, 0, len(b))
	for {
		if len(b) < encGroupSize+1 {
			return nil, nil, errors.New("insufficient bytes to decode value")
		}

		groupBytes := b[:encGroupSize+1]

		group := groupBytes[:encGroupSize]
		marker := groupBytes[encGroupSize]

		padCount := encMarker - marker
		if padCount > encGroupSize {
			return nil, nil, errors.Errorf("invalid marker byte, group bytes %q", groupBytes)
		}

		realGroupSize := encGroupSize - padCount
		data = append(data, group[:realGroupSize]...)
		b = b[encGroupSize+1:]

		if padCount != 0 {
			for _, v := range group[realGroupSize:] {
				if v != encPad {
					return nil, nil, errors.Errorf("invalid padding byte, group bytes %q", groupBytes)
				}
			}
			break
		}
	}
	return b, data, nil
}

// GlobalMin returns the smallest key of a shard key pattern: every field set
// to MinKey.
func GlobalMin(pattern bson.D) bson.Raw {
	return boundOf(pattern, primitive.MinKey{})
}

// GlobalMax returns the largest key of a shard key pattern: every field set
// to MaxKey.
func GlobalMax(pattern bson.D) bson.Raw {
	return boundOf(pattern, primitive.MaxKey{})
}

func boundOf(pattern bson.D, v interface{}) bson.Raw {
	doc := make(bson.D, 0, len(pattern))
	for _, e := range pattern {
		doc = append(doc, bson.E{Key: e.Key, Value: v})
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return raw
}
