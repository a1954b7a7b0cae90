package wsserver

// AssetHandler answers a FetchAsset request with the asset's raw
// bytes, or an error if uri is unknown or unreadable. Asset *storage*
// is a data_loader/HTTP-surface concern original_source keeps outside
// the SDK proper, so the server only exposes this pluggable seam
// rather than a built-in asset store.
type AssetHandler func(uri string) ([]byte, error)
