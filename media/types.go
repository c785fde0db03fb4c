// media/types.go
package media

type AssetType string

const (
	AssetTypePreview  AssetType = "preview"
	AssetTypeOriginal AssetType = "original"
	AssetTypeCloud    AssetType = "cloud"
	AssetTypeUnknown  AssetType = "unknown"
)
