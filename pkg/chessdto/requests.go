package chessdto

// CreateGameRequest registers a new pairing.
type CreateGameRequest struct {
	ContractGameID uint64 `json:"contractGameId"`
	Player1        string `json:"player1"`
	Player2        string `json:"player2"`
	Creator        string `json:"creator"`
}

type CreateGameResponse struct {
	DisplayID      string `json:"displayId"`
	ContractGameID uint64 `json:"contractGameId"`
}

// SettlementRequest asks the server to reconcile a signed history and
// settle it on the games contract.
type SettlementRequest struct {
	ContractGameID uint64 `json:"contractGameId"`
	SignerIdentity string `json:"signerIdentity"`
	Message        string `json:"message"`
	Signature      string `json:"signature"`
	UpdateIndex    uint64 `json:"updateIndex"`
}

type SettlementResponse struct {
	TxHash string `json:"txHash"`
}

// NFTRequest points the game-over NFT of a finished game at its metadata.
type NFTRequest struct {
	ContractAddress string `json:"contractAddress"`
	ContractGameID  uint64 `json:"contractGameId"`
	MetadataURL     string `json:"metadataUrl"`
}

type NFTResponse struct {
	TxHash string `json:"txHash"`
}
