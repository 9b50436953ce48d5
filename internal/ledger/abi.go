package ledger

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	FnVerifyGameUpdate = "verifyGameUpdate"
	FnSetNftURI        = "setNftUri"
)

// contractABI covers only the functions the server calls.
const contractABI = `[
  {"type":"function","name":"verifyGameUpdate","stateMutability":"nonpayable",
   "inputs":[
     {"name":"gameId","type":"uint256"},
     {"name":"updateIndex","type":"uint256"},
     {"name":"result","type":"uint8"},
     {"name":"winner","type":"address"}
   ],"outputs":[]},
  {"type":"function","name":"setNftUri","stateMutability":"nonpayable",
   "inputs":[
     {"name":"gamesContract","type":"address"},
     {"name":"gameId","type":"uint256"},
     {"name":"uri","type":"string"}
   ],"outputs":[]}
]`

func parseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(contractABI))
}

// U256 converts an id into the *big.Int form the ABI packer expects.
func U256(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
