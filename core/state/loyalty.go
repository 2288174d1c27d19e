package state

import (
	"github.com/ethereum/go-ethereum/common"

	"loyaltypay/core/types"
	"loyaltypay/crypto"
	"loyaltypay/native/loyalty"
)

// LoyaltyRecord loads and decodes the record stored at addr.
func (m *Manager) LoyaltyRecord(addr crypto.Address) (*loyalty.Record, bool, error) {
	data, err := m.getRaw(LoyaltyRecordKey(addr))
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	record, err := loyalty.DecodeRecord(data)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// PutLoyaltyRecord stores the record in its fixed binary layout.
func (m *Manager) PutLoyaltyRecord(addr crypto.Address, record *loyalty.Record) error {
	encoded, err := loyalty.EncodeRecord(record)
	if err != nil {
		return err
	}
	return m.putRaw(LoyaltyRecordKey(addr), encoded)
}

func (m *Manager) DeleteLoyaltyRecord(addr crypto.Address) error {
	return m.KVDelete(LoyaltyRecordKey(addr))
}

// ReferencedPayments returns every committed transfer tagged with ref.
func (m *Manager) ReferencedPayments(ref common.Hash) ([]types.ReferencedPayment, error) {
	var payments []types.ReferencedPayment
	if err := m.KVGetList(prefixed(referencePrefix, ref.Bytes()), &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

// AppendReferencedPayment records a tagged transfer under ref.
func (m *Manager) AppendReferencedPayment(ref common.Hash, payment types.ReferencedPayment) error {
	payments, err := m.ReferencedPayments(ref)
	if err != nil {
		return err
	}
	payments = append(payments, payment)
	return m.KVPut(prefixed(referencePrefix, ref.Bytes()), payments)
}

// ReferenceConsumed reports whether a settlement already used ref.
func (m *Manager) ReferenceConsumed(ref common.Hash) (bool, error) {
	return m.KVGet(prefixed(referenceSpentPrefix, ref.Bytes()), nil)
}

func (m *Manager) MarkReferenceConsumed(ref common.Hash) error {
	return m.KVPut(prefixed(referenceSpentPrefix, ref.Bytes()), true)
}
