// Package codec encodes envelopes into socket frames.
//
// JSON text frames are the default wire contract. MessagePack and CBOR
// binary frames are available for peers that negotiate them out of band;
// the envelope payload stays a JSON document inside either binary frame.
package codec
