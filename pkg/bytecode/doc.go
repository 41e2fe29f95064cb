// Package bytecode implements the serialized program format for Allot.
//
// A program file is a six byte header followed by a CBOR document:
//
//	"ALBC" magic | version (u16, big-endian) | CBOR(program)
//
// The CBOR document uses canonical encoding with integer map keys, so the
// same program always encodes to the same bytes. Decoding a file yields a
// vm.Program indistinguishable from the one that was encoded.
//
// Decode checks that every variant tag, opcode, operator and register in
// the document is known. It does not check that labels or jump targets
// point inside the program; the VM reports those when they are used.
package bytecode
