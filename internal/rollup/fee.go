package rollup

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// FeeKind is the fee calculation pattern as seen by the rollup.
type FeeKind string

const (
	FeeTransfer        FeeKind = "Transfer"
	FeeTransferToNew   FeeKind = "TransferToNew"
	FeeWithdraw        FeeKind = "Withdraw"
	FeeFastWithdraw    FeeKind = "FastWithdraw"
	FeeChangePubKey    FeeKind = "ChangePubKey"
	FeeMintNFT         FeeKind = "MintNFT"
	FeeWithdrawNFT     FeeKind = "WithdrawNFT"
	FeeFastWithdrawNFT FeeKind = "FastWithdrawNFT"
)

// ChangePubKeyType is the authorization flavour of a ChangePubKey fee.
type ChangePubKeyType string

const (
	ChangePubKeyOnchain ChangePubKeyType = "Onchain"
	ChangePubKeyECDSA   ChangePubKeyType = "ECDSA"
	ChangePubKeyCREATE2 ChangePubKeyType = "CREATE2"
)

// FeeType tags a Fee. Subtype is only meaningful for FeeChangePubKey.
type FeeType struct {
	Kind    FeeKind
	Subtype ChangePubKeyType
}

// ChangePubKeyFee builds a ChangePubKey fee type.
func ChangePubKeyFee(subtype ChangePubKeyType) FeeType {
	return FeeType{Kind: FeeChangePubKey, Subtype: subtype}
}

func (f FeeType) String() string {
	if f.Kind == FeeChangePubKey {
		return fmt.Sprintf("%s(%s)", f.Kind, f.Subtype)
	}
	return string(f.Kind)
}

// ParseFeeType parses the String form of a FeeType.
func ParseFeeType(s string) (FeeType, error) {
	if rest, ok := strings.CutPrefix(s, string(FeeChangePubKey)); ok {
		sub := strings.TrimSuffix(strings.TrimPrefix(rest, "("), ")")
		switch ChangePubKeyType(sub) {
		case ChangePubKeyOnchain, ChangePubKeyECDSA, ChangePubKeyCREATE2:
			return ChangePubKeyFee(ChangePubKeyType(sub)), nil
		}
		return FeeType{}, fmt.Errorf("unknown ChangePubKey subtype %q", sub)
	}
	switch k := FeeKind(s); k {
	case FeeTransfer, FeeTransferToNew, FeeWithdraw, FeeFastWithdraw,
		FeeMintNFT, FeeWithdrawNFT, FeeFastWithdrawNFT:
		return FeeType{Kind: k}, nil
	}
	return FeeType{}, fmt.Errorf("unknown fee type %q", s)
}

// Fee is the minimum fee quoted by a provider. Quantities are unsigned and
// immutable once constructed.
type Fee struct {
	feeType     FeeType
	gasTxAmount uint256.Int
	gasPriceWei uint256.Int
	gasFee      uint256.Int
	zkpFee      uint256.Int
	totalFee    uint256.Int
}

// NewFee validates totalFee == gasFee + zkpFee and builds a Fee.
// A mismatch means the provider sent an inconsistent quote.
func NewFee(feeType FeeType, gasTxAmount, gasPriceWei, gasFee, zkpFee, totalFee *uint256.Int) (*Fee, error) {
	for name, v := range map[string]*uint256.Int{
		"gasTxAmount": gasTxAmount,
		"gasPriceWei": gasPriceWei,
		"gasFee":      gasFee,
		"zkpFee":      zkpFee,
		"totalFee":    totalFee,
	} {
		if v == nil {
			return nil, NewError(KindMissingRequiredField, name)
		}
	}

	sum, overflow := new(uint256.Int).AddOverflow(gasFee, zkpFee)
	if overflow || !sum.Eq(totalFee) {
		return nil, Errorf(KindMalformedResponse, "fee total %s != gas fee %s + zkp fee %s",
			totalFee.Dec(), gasFee.Dec(), zkpFee.Dec())
	}

	f := &Fee{feeType: feeType}
	f.gasTxAmount.Set(gasTxAmount)
	f.gasPriceWei.Set(gasPriceWei)
	f.gasFee.Set(gasFee)
	f.zkpFee.Set(zkpFee)
	f.totalFee.Set(totalFee)
	return f, nil
}

// Type returns the fee type tag.
func (f *Fee) Type() FeeType { return f.feeType }

// GasTxAmount returns a copy of the gas amount.
func (f *Fee) GasTxAmount() *uint256.Int { return f.gasTxAmount.Clone() }

// GasPriceWei returns a copy of the gas price.
func (f *Fee) GasPriceWei() *uint256.Int { return f.gasPriceWei.Clone() }

// GasFee returns a copy of the gas fee.
func (f *Fee) GasFee() *uint256.Int { return f.gasFee.Clone() }

// ZkpFee returns a copy of the protocol (proof) fee.
func (f *Fee) ZkpFee() *uint256.Int { return f.zkpFee.Clone() }

// TotalFee returns a copy of the total fee.
func (f *Fee) TotalFee() *uint256.Int { return f.totalFee.Clone() }
