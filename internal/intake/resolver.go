package intake

import "asset-intake/internal/domain/asset"

// FindExisting returns the first record whose plate or VIN equals the
// capture's. Either match alone is enough, so a transferred plate can point at
// a different vehicle; callers that need both must check VIN themselves.
func FindExisting(capture asset.PendingCapture, records []asset.AssetRecord) (asset.AssetRecord, bool) {
	plate := capture.Recognition.Plate
	v := capture.Recognition.VIN
	plateKnown := !asset.IsPlaceholder(plate)
	vinKnown := !asset.IsPlaceholder(v)

	if !plateKnown && !vinKnown {
		return asset.AssetRecord{}, false
	}

	for _, r := range records {
		if plateKnown && plate == r.Plate {
			return r, true
		}
		if vinKnown && v == r.VIN {
			return r, true
		}
	}
	return asset.AssetRecord{}, false
}
