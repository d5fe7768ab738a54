// Table accessors and builders for the tables declared in txn.fbs.

package txn

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

type Envelope struct {
	_tab flatbuffers.Table
}

func GetRootAsEnvelope(buf []byte, offset flatbuffers.UOffsetT) *Envelope {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &Envelope{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *Envelope) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *Envelope) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *Envelope) Kind() byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetByte(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Envelope) Creator() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Envelope) BodyLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *Envelope) BodyBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func EnvelopeStart(builder *flatbuffers.Builder) {
	builder.StartObject(3)
}

func EnvelopeAddKind(builder *flatbuffers.Builder, kind byte) {
	builder.PrependByteSlot(0, kind, 0)
}

func EnvelopeAddCreator(builder *flatbuffers.Builder, creator uint64) {
	builder.PrependUint64Slot(1, creator, 0)
}

func EnvelopeAddBody(builder *flatbuffers.Builder, body flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(2, flatbuffers.UOffsetT(body), 0)
}

func EnvelopeEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type HintsKeyPublication struct {
	_tab flatbuffers.Table
}

func GetRootAsHintsKeyPublication(buf []byte, offset flatbuffers.UOffsetT) *HintsKeyPublication {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &HintsKeyPublication{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *HintsKeyPublication) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *HintsKeyPublication) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *HintsKeyPublication) PartyId() uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetUint32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *HintsKeyPublication) NumParties() uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.GetUint32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *HintsKeyPublication) HintsKeyLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *HintsKeyPublication) HintsKeyBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func HintsKeyPublicationStart(builder *flatbuffers.Builder) {
	builder.StartObject(3)
}

func HintsKeyPublicationAddPartyId(builder *flatbuffers.Builder, partyId uint32) {
	builder.PrependUint32Slot(0, partyId, 0)
}

func HintsKeyPublicationAddNumParties(builder *flatbuffers.Builder, numParties uint32) {
	builder.PrependUint32Slot(1, numParties, 0)
}

func HintsKeyPublicationAddHintsKey(builder *flatbuffers.Builder, hintsKey flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(2, flatbuffers.UOffsetT(hintsKey), 0)
}

func HintsKeyPublicationEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type PreprocessedKeys struct {
	_tab flatbuffers.Table
}

func GetRootAsPreprocessedKeys(buf []byte, offset flatbuffers.UOffsetT) *PreprocessedKeys {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &PreprocessedKeys{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *PreprocessedKeys) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *PreprocessedKeys) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *PreprocessedKeys) AggregationKeyLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *PreprocessedKeys) AggregationKeyBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *PreprocessedKeys) VerificationKeyLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *PreprocessedKeys) VerificationKeyBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func PreprocessedKeysStart(builder *flatbuffers.Builder) {
	builder.StartObject(2)
}

func PreprocessedKeysAddAggregationKey(builder *flatbuffers.Builder, aggregationKey flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(aggregationKey), 0)
}

func PreprocessedKeysAddVerificationKey(builder *flatbuffers.Builder, verificationKey flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(verificationKey), 0)
}

func PreprocessedKeysEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type PreprocessingVote struct {
	_tab flatbuffers.Table
}

func GetRootAsPreprocessingVote(buf []byte, offset flatbuffers.UOffsetT) *PreprocessingVote {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &PreprocessingVote{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *PreprocessingVote) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *PreprocessingVote) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *PreprocessingVote) ConstructionId() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *PreprocessingVote) PreprocessedKeys(obj *PreprocessedKeys) *PreprocessedKeys {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		x := rcv._tab.Indirect(o + rcv._tab.Pos)
		if obj == nil {
			obj = new(PreprocessedKeys)
		}
		obj.Init(rcv._tab.Bytes, x)
		return obj
	}
	return nil
}

func (rcv *PreprocessingVote) CongruentNodeId() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func PreprocessingVoteStart(builder *flatbuffers.Builder) {
	builder.StartObject(3)
}

func PreprocessingVoteAddConstructionId(builder *flatbuffers.Builder, constructionId uint64) {
	builder.PrependUint64Slot(0, constructionId, 0)
}

func PreprocessingVoteAddPreprocessedKeys(builder *flatbuffers.Builder, preprocessedKeys flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(preprocessedKeys), 0)
}

func PreprocessingVoteAddCongruentNodeId(builder *flatbuffers.Builder, congruentNodeId uint64) {
	builder.PrependUint64Slot(2, congruentNodeId, 0)
}

func PreprocessingVoteEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type PartialSignature struct {
	_tab flatbuffers.Table
}

func GetRootAsPartialSignature(buf []byte, offset flatbuffers.UOffsetT) *PartialSignature {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &PartialSignature{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *PartialSignature) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *PartialSignature) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *PartialSignature) ConstructionId() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *PartialSignature) MessageLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *PartialSignature) MessageBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *PartialSignature) PartialSignatureLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *PartialSignature) PartialSignatureBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func PartialSignatureStart(builder *flatbuffers.Builder) {
	builder.StartObject(3)
}

func PartialSignatureAddConstructionId(builder *flatbuffers.Builder, constructionId uint64) {
	builder.PrependUint64Slot(0, constructionId, 0)
}

func PartialSignatureAddMessage(builder *flatbuffers.Builder, message flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(message), 0)
}

func PartialSignatureAddPartialSignature(builder *flatbuffers.Builder, partialSignature flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(2, flatbuffers.UOffsetT(partialSignature), 0)
}

func PartialSignatureEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type CrsPublication struct {
	_tab flatbuffers.Table
}

func GetRootAsCrsPublication(buf []byte, offset flatbuffers.UOffsetT) *CrsPublication {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &CrsPublication{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *CrsPublication) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *CrsPublication) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *CrsPublication) NewCrsLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *CrsPublication) NewCrsBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *CrsPublication) ProofLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *CrsPublication) ProofBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func CrsPublicationStart(builder *flatbuffers.Builder) {
	builder.StartObject(2)
}

func CrsPublicationAddNewCrs(builder *flatbuffers.Builder, newCrs flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(newCrs), 0)
}

func CrsPublicationAddProof(builder *flatbuffers.Builder, proof flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(proof), 0)
}

func CrsPublicationEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type ProofKeyPublication struct {
	_tab flatbuffers.Table
}

func GetRootAsProofKeyPublication(buf []byte, offset flatbuffers.UOffsetT) *ProofKeyPublication {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &ProofKeyPublication{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *ProofKeyPublication) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *ProofKeyPublication) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *ProofKeyPublication) ProofKeyLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *ProofKeyPublication) ProofKeyBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func ProofKeyPublicationStart(builder *flatbuffers.Builder) {
	builder.StartObject(1)
}

func ProofKeyPublicationAddProofKey(builder *flatbuffers.Builder, proofKey flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(proofKey), 0)
}

func ProofKeyPublicationEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type History struct {
	_tab flatbuffers.Table
}

func GetRootAsHistory(buf []byte, offset flatbuffers.UOffsetT) *History {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &History{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *History) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *History) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *History) AddressBookHashLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *History) AddressBookHashBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *History) MetadataLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *History) MetadataBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func HistoryStart(builder *flatbuffers.Builder) {
	builder.StartObject(2)
}

func HistoryAddAddressBookHash(builder *flatbuffers.Builder, addressBookHash flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(addressBookHash), 0)
}

func HistoryAddMetadata(builder *flatbuffers.Builder, metadata flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(metadata), 0)
}

func HistoryEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type HistorySignature struct {
	_tab flatbuffers.Table
}

func GetRootAsHistorySignature(buf []byte, offset flatbuffers.UOffsetT) *HistorySignature {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &HistorySignature{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *HistorySignature) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *HistorySignature) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *HistorySignature) ConstructionId() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *HistorySignature) History(obj *History) *History {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		x := rcv._tab.Indirect(o + rcv._tab.Pos)
		if obj == nil {
			obj = new(History)
		}
		obj.Init(rcv._tab.Bytes, x)
		return obj
	}
	return nil
}

func (rcv *HistorySignature) SignatureLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *HistorySignature) SignatureBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func HistorySignatureStart(builder *flatbuffers.Builder) {
	builder.StartObject(3)
}

func HistorySignatureAddConstructionId(builder *flatbuffers.Builder, constructionId uint64) {
	builder.PrependUint64Slot(0, constructionId, 0)
}

func HistorySignatureAddHistory(builder *flatbuffers.Builder, history flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(history), 0)
}

func HistorySignatureAddSignature(builder *flatbuffers.Builder, signature flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(2, flatbuffers.UOffsetT(signature), 0)
}

func HistorySignatureEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type ProofKey struct {
	_tab flatbuffers.Table
}

func GetRootAsProofKey(buf []byte, offset flatbuffers.UOffsetT) *ProofKey {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &ProofKey{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *ProofKey) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *ProofKey) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *ProofKey) NodeId() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *ProofKey) KeyLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *ProofKey) KeyBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func ProofKeyStart(builder *flatbuffers.Builder) {
	builder.StartObject(2)
}

func ProofKeyAddNodeId(builder *flatbuffers.Builder, nodeId uint64) {
	builder.PrependUint64Slot(0, nodeId, 0)
}

func ProofKeyAddKey(builder *flatbuffers.Builder, key flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(key), 0)
}

func ProofKeyEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type HistoryProof struct {
	_tab flatbuffers.Table
}

func GetRootAsHistoryProof(buf []byte, offset flatbuffers.UOffsetT) *HistoryProof {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &HistoryProof{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *HistoryProof) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *HistoryProof) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *HistoryProof) SourceAddressBookHashLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *HistoryProof) SourceAddressBookHashBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *HistoryProof) TargetProofKeys(obj *ProofKey, j int) bool {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		x := rcv._tab.Vector(o)
		x += flatbuffers.UOffsetT(j) * 4
		x = rcv._tab.Indirect(x)
		obj.Init(rcv._tab.Bytes, x)
		return true
	}
	return false
}

func (rcv *HistoryProof) TargetProofKeysLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *HistoryProof) TargetHistory(obj *History) *History {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		x := rcv._tab.Indirect(o + rcv._tab.Pos)
		if obj == nil {
			obj = new(History)
		}
		obj.Init(rcv._tab.Bytes, x)
		return obj
	}
	return nil
}

func (rcv *HistoryProof) ProofLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *HistoryProof) ProofBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func HistoryProofStart(builder *flatbuffers.Builder) {
	builder.StartObject(4)
}

func HistoryProofAddSourceAddressBookHash(builder *flatbuffers.Builder, sourceAddressBookHash flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(sourceAddressBookHash), 0)
}

func HistoryProofAddTargetProofKeys(builder *flatbuffers.Builder, targetProofKeys flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(targetProofKeys), 0)
}

func HistoryProofStartTargetProofKeysVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(4, numElems, 4)
}

func HistoryProofAddTargetHistory(builder *flatbuffers.Builder, targetHistory flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(2, flatbuffers.UOffsetT(targetHistory), 0)
}

func HistoryProofAddProof(builder *flatbuffers.Builder, proof flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(3, flatbuffers.UOffsetT(proof), 0)
}

func HistoryProofEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type HistoryProofVote struct {
	_tab flatbuffers.Table
}

func GetRootAsHistoryProofVote(buf []byte, offset flatbuffers.UOffsetT) *HistoryProofVote {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &HistoryProofVote{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *HistoryProofVote) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *HistoryProofVote) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *HistoryProofVote) ConstructionId() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *HistoryProofVote) Proof(obj *HistoryProof) *HistoryProof {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		x := rcv._tab.Indirect(o + rcv._tab.Pos)
		if obj == nil {
			obj = new(HistoryProof)
		}
		obj.Init(rcv._tab.Bytes, x)
		return obj
	}
	return nil
}

func (rcv *HistoryProofVote) CongruentNodeId() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func HistoryProofVoteStart(builder *flatbuffers.Builder) {
	builder.StartObject(3)
}

func HistoryProofVoteAddConstructionId(builder *flatbuffers.Builder, constructionId uint64) {
	builder.PrependUint64Slot(0, constructionId, 0)
}

func HistoryProofVoteAddProof(builder *flatbuffers.Builder, proof flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(proof), 0)
}

func HistoryProofVoteAddCongruentNodeId(builder *flatbuffers.Builder, congruentNodeId uint64) {
	builder.PrependUint64Slot(2, congruentNodeId, 0)
}

func HistoryProofVoteEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
