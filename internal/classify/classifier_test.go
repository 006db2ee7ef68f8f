package classify

import (
	"testing"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/evm"
)

const (
	testContract = "0xc000000000000000000000000000000000000001"
	testCreator  = "0xcafe000000000000000000000000000000000001"
	testUser     = "0xabcd000000000000000000000000000000000001"
	testOther    = "0xabcd000000000000000000000000000000000002"
)

func TestClassify_DecisionOrder(t *testing.T) {
	selectors := DefaultSelectors()

	tests := []struct {
		name string
		in   Input
		want domain.TransferKind
	}{
		{
			name: "selector wins over mint heuristics",
			in: Input{
				From:     evm.ZeroAddress,
				To:       testUser,
				Amount:   100,
				Contract: testContract,
				Creator:  testCreator,
				TxFrom:   testUser,
				TxValue:  1.0,
				Selector: "0x9e3a5e35",
			},
			want: domain.KindClaimAirdrop,
		},
		{
			name: "unknown selector falls through",
			in: Input{
				From:     evm.ZeroAddress,
				To:       testUser,
				Amount:   100,
				Contract: testContract,
				Creator:  testCreator,
				TxFrom:   testUser,
				TxValue:  1.0,
				Selector: "0xdeadbeef",
			},
			want: domain.KindBuy,
		},
		{
			name: "mint with value is buy",
			in: Input{
				From:    evm.ZeroAddress,
				To:      testUser,
				Amount:  100,
				TxFrom:  testUser,
				TxValue: 0.5,
			},
			want: domain.KindBuy,
		},
		{
			name: "mint with value from creator is buy and lock",
			in: Input{
				From:    evm.ZeroAddress,
				To:      testCreator,
				Amount:  100,
				Creator: testCreator,
				TxFrom:  testCreator,
				TxValue: 0.5,
			},
			want: domain.KindBuyAndLock,
		},
		{
			name: "zero-value mint to contract is graduation",
			in: Input{
				From:     evm.ZeroAddress,
				To:       testContract,
				Amount:   100,
				Contract: testContract,
			},
			want: domain.KindGraduation,
		},
		{
			name: "zero-value mint to user is transfer",
			in: Input{
				From:   evm.ZeroAddress,
				To:     testUser,
				Amount: 100,
			},
			want: domain.KindTransfer,
		},
		{
			name: "burn with value is sell",
			in: Input{
				From:    testUser,
				To:      evm.ZeroAddress,
				Amount:  100,
				TxValue: 0.5,
			},
			want: domain.KindSell,
		},
		{
			name: "burn without value is transfer",
			in: Input{
				From:   testUser,
				To:     evm.ZeroAddress,
				Amount: 100,
			},
			want: domain.KindTransfer,
		},
		{
			name: "from contract is unlock",
			in: Input{
				From:     testContract,
				To:       testUser,
				Amount:   100,
				Contract: testContract,
			},
			want: domain.KindUnlock,
		},
		{
			name: "to contract is sell",
			in: Input{
				From:     testUser,
				To:       testContract,
				Amount:   100,
				Contract: testContract,
			},
			want: domain.KindSell,
		},
		{
			name: "positive value fallback is buy",
			in: Input{
				From:    testUser,
				To:      testOther,
				Amount:  100,
				TxValue: 0.1,
			},
			want: domain.KindBuy,
		},
		{
			name: "wallet to wallet is transfer",
			in: Input{
				From:   testUser,
				To:     testOther,
				Amount: 100,
			},
			want: domain.KindTransfer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in, selectors)
			if got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassify_PluggableSelectors(t *testing.T) {
	custom := SelectorTable{"0x12345678": domain.KindUnlock}

	in := Input{
		From:     testUser,
		To:       testOther,
		Amount:   1,
		Selector: "0x12345678",
	}
	if got := Classify(in, custom); got != domain.KindUnlock {
		t.Errorf("custom selector table ignored: got %s", got)
	}

	// Same input against the default table falls through to TRANSFER.
	if got := Classify(in, DefaultSelectors()); got != domain.KindTransfer {
		t.Errorf("default table should not know custom selector: got %s", got)
	}
}
