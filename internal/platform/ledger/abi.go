package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// marketplaceABIJSON covers the marketplace methods and events this package
// calls. Offers are keyed by token id; a token has at most one active offer.
const marketplaceABIJSON = `[
  {"inputs":[{"internalType":"uint256","name":"_tokenId","type":"uint256"}],"name":"getOffer","outputs":[
    {"internalType":"address","name":"seller","type":"address"},
    {"internalType":"uint256","name":"price","type":"uint256"},
    {"internalType":"uint256","name":"index","type":"uint256"},
    {"internalType":"uint256","name":"tokenId","type":"uint256"},
    {"internalType":"bool","name":"isSireOffer","type":"bool"},
    {"internalType":"bool","name":"active","type":"bool"}
  ],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getAllTokenOnSale","outputs":[{"internalType":"uint256[]","name":"listOfOffers","type":"uint256[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getAllSireOffers","outputs":[{"internalType":"uint256[]","name":"listOfOffers","type":"uint256[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"_price","type":"uint256"},{"internalType":"uint256","name":"_tokenId","type":"uint256"}],"name":"setOffer","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"_price","type":"uint256"},{"internalType":"uint256","name":"_tokenId","type":"uint256"}],"name":"setSireOffer","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"_tokenId","type":"uint256"}],"name":"removeOffer","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"_tokenId","type":"uint256"}],"name":"buyKitty","outputs":[],"stateMutability":"payable","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"_sireTokenId","type":"uint256"},{"internalType":"uint256","name":"_matronTokenId","type":"uint256"}],"name":"buySireRites","outputs":[],"stateMutability":"payable","type":"function"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"internalType":"string","name":"TxType","type":"string"},
    {"indexed":false,"internalType":"address","name":"owner","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"tokenId","type":"uint256"}
  ],"name":"MarketTransaction","type":"event"}
]`

// kittyABIJSON covers the kitty ownership contract.
const kittyABIJSON = `[
  {"inputs":[{"internalType":"uint256","name":"_id","type":"uint256"}],"name":"getKitty","outputs":[
    {"internalType":"uint256","name":"genes","type":"uint256"},
    {"internalType":"uint64","name":"birthTime","type":"uint64"},
    {"internalType":"uint64","name":"cooldownEndTime","type":"uint64"},
    {"internalType":"uint32","name":"mumId","type":"uint32"},
    {"internalType":"uint32","name":"dadId","type":"uint32"},
    {"internalType":"uint16","name":"generation","type":"uint16"},
    {"internalType":"uint16","name":"cooldownIndex","type":"uint16"},
    {"internalType":"address","name":"owner","type":"address"}
  ],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"_owner","type":"address"},{"internalType":"address","name":"_operator","type":"address"}],"name":"isApprovedForAll","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"_operator","type":"address"},{"internalType":"bool","name":"_approved","type":"bool"}],"name":"setApprovalForAll","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"_dadId","type":"uint256"},{"internalType":"uint256","name":"_mumId","type":"uint256"}],"name":"breed","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"internalType":"address","name":"owner","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"kittyId","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"mumId","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"dadId","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"genes","type":"uint256"}
  ],"name":"Birth","type":"event"}
]`

const (
	eventMarketTransaction = "MarketTransaction"
	eventBirth             = "Birth"
)

// MarketplaceABI parses the marketplace ABI.
func MarketplaceABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(marketplaceABIJSON))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("ledger: parse marketplace abi: %w", err)
	}
	return parsed, nil
}

// KittyABI parses the kitty contract ABI.
func KittyABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(kittyABIJSON))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("ledger: parse kitty abi: %w", err)
	}
	return parsed, nil
}
