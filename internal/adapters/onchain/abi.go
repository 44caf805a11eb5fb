package onchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Market contract surface consumed by the bot (FriendtechSharesV1 layout).
const marketABIJSON = `[
	{
		"name": "Trade",
		"type": "event",
		"anonymous": false,
		"inputs": [
			{"name": "trader", "type": "address", "indexed": false},
			{"name": "subject", "type": "address", "indexed": false},
			{"name": "isBuy", "type": "bool", "indexed": false},
			{"name": "shareAmount", "type": "uint256", "indexed": false},
			{"name": "ethAmount", "type": "uint256", "indexed": false},
			{"name": "protocolEthAmount", "type": "uint256", "indexed": false},
			{"name": "subjectEthAmount", "type": "uint256", "indexed": false},
			{"name": "supply", "type": "uint256", "indexed": false}
		]
	},
	{
		"name": "buyShares",
		"type": "function",
		"stateMutability": "payable",
		"inputs": [
			{"name": "sharesSubject", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"name": "sellShares",
		"type": "function",
		"stateMutability": "payable",
		"inputs": [
			{"name": "sharesSubject", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"name": "getBuyPriceAfterFee",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "sharesSubject", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "getSellPriceAfterFee",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "sharesSubject", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "sharesBalance",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "", "type": "address"},
			{"name": "", "type": "address"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "protocolFeePercent",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "subjectFeePercent",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	}
]`

var (
	marketABI abi.ABI

	// tradeEventID is topic[0] of every Trade log.
	tradeEventID common.Hash

	// buySharesSelector is the 4-byte selector of buyShares(address,uint256) (0x6945b123).
	buySharesSelector []byte
)

func init() {
	var err error
	marketABI, err = abi.JSON(strings.NewReader(marketABIJSON))
	if err != nil {
		panic("market abi parse: " + err.Error())
	}
	tradeEventID = marketABI.Events["Trade"].ID
	buySharesSelector = marketABI.Methods["buyShares"].ID
}
