package mysql

// -----------------------------------------------------------------------------
// PROPERTIES
// -----------------------------------------------------------------------------

const propertyCols = `
  id, external_id, name, slug, address, description, latitude, longitude,
  contact_name, contact_phone, luxury_status, is_active, completion_date,
  thumbnail, brochure, last_synced_at`

const propertyByExternalIDSQL = `SELECT` + propertyCols + `
FROM properties
WHERE external_id = ?
`

const propertyBySlugSQL = `SELECT` + propertyCols + `
FROM properties
WHERE slug = ?
`

const insertPropertySQL = `
INSERT INTO properties
  (external_id, name, slug, address, description, latitude, longitude,
   contact_name, contact_phone, luxury_status, is_active, completion_date,
   thumbnail, brochure, last_synced_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Asset slots are owned by AttachAsset and never overwritten here.
const updatePropertySQL = `
UPDATE properties SET
  external_id     = ?,
  name            = ?,
  slug            = ?,
  address         = ?,
  description     = ?,
  latitude        = ?,
  longitude       = ?,
  contact_name    = ?,
  contact_phone   = ?,
  luxury_status   = ?,
  is_active       = ?,
  completion_date = ?,
  last_synced_at  = ?
WHERE id = ?
`

const syncedPropertyIDsSQL = `
SELECT id, external_id
FROM properties
WHERE external_id IS NOT NULL
FOR UPDATE
`

const deletePropertiesPrefix = "DELETE FROM properties WHERE id IN ("

// -----------------------------------------------------------------------------
// CONFIGURATIONS
// -----------------------------------------------------------------------------

const configurationCols = `
  id, external_id, property_id, type, bedrooms, bathrooms, square_footage,
  price, is_available, last_synced_at`

const configurationByExternalIDSQL = `SELECT` + configurationCols + `
FROM property_configurations
WHERE external_id = ?
`

const configurationByTypeSQL = `SELECT` + configurationCols + `
FROM property_configurations
WHERE property_id = ? AND type = ?
`

const insertConfigurationSQL = `
INSERT INTO property_configurations
  (external_id, property_id, type, bedrooms, bathrooms, square_footage, price, is_available, last_synced_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const updateConfigurationSQL = `
UPDATE property_configurations SET
  external_id    = ?,
  property_id    = ?,
  type           = ?,
  bedrooms       = ?,
  bathrooms      = ?,
  square_footage = ?,
  price          = ?,
  is_available   = ?,
  last_synced_at = ?
WHERE id = ?
`

// -----------------------------------------------------------------------------
// IMAGES
// -----------------------------------------------------------------------------

const imageCols = `
  id, external_id, property_id, image, alt_text, sort_order, attachment_index,
  original_record_id, last_synced_at`

const imageByExternalIDSQL = `SELECT` + imageCols + `
FROM property_images
WHERE external_id = ?
`

const insertImageSQL = `
INSERT INTO property_images
  (external_id, property_id, alt_text, sort_order, attachment_index, original_record_id, last_synced_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?)
`

const updateImageSQL = `
UPDATE property_images SET
  property_id        = ?,
  alt_text           = ?,
  sort_order         = ?,
  attachment_index   = ?,
  original_record_id = ?,
  last_synced_at     = ?
WHERE id = ?
`

// -----------------------------------------------------------------------------
// AMENITIES
// -----------------------------------------------------------------------------

const amenityCols = `
  id, external_id, property_id, name, description, icon, last_synced_at`

const amenityByExternalIDSQL = `SELECT` + amenityCols + `
FROM property_amenities
WHERE external_id = ?
`

const amenityByNameSQL = `SELECT` + amenityCols + `
FROM property_amenities
WHERE property_id = ? AND name = ?
`

const insertAmenitySQL = `
INSERT INTO property_amenities
  (external_id, property_id, name, description, icon, last_synced_at)
VALUES
  (?, ?, ?, ?, ?, ?)
`

const updateAmenitySQL = `
UPDATE property_amenities SET
  external_id    = ?,
  property_id    = ?,
  name           = ?,
  description    = ?,
  icon           = ?,
  last_synced_at = ?
WHERE id = ?
`

// -----------------------------------------------------------------------------
// ASSET SLOTS (conditional: only an empty slot is filled)
// -----------------------------------------------------------------------------

const attachThumbnailSQL = `UPDATE properties SET thumbnail = ? WHERE id = ? AND thumbnail IS NULL`

const attachBrochureSQL = `UPDATE properties SET brochure = ? WHERE id = ? AND brochure IS NULL`

const attachImageSQL = `UPDATE property_images SET image = ? WHERE id = ? AND image IS NULL`

// -----------------------------------------------------------------------------
// SYNC RUNS
// -----------------------------------------------------------------------------

const upsertRunSQL = `
INSERT INTO sync_runs
  (id, sync_type, status, started_at, completed_at,
   properties_processed, configurations_processed, images_processed, amenities_processed,
   errors_count, error_details, notes, dry_run, files_downloaded)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  status                   = VALUES(status),
  completed_at             = VALUES(completed_at),
  properties_processed     = VALUES(properties_processed),
  configurations_processed = VALUES(configurations_processed),
  images_processed         = VALUES(images_processed),
  amenities_processed      = VALUES(amenities_processed),
  errors_count             = VALUES(errors_count),
  error_details            = VALUES(error_details),
  notes                    = VALUES(notes),
  files_downloaded         = VALUES(files_downloaded)
`

const listRunsSQL = `
SELECT id, sync_type, status, started_at, completed_at,
       properties_processed, configurations_processed, images_processed, amenities_processed,
       errors_count, error_details, notes, dry_run, files_downloaded
FROM sync_runs
ORDER BY started_at DESC
LIMIT ?
`

const countsSQL = `
SELECT
  (SELECT COUNT(*) FROM properties),
  (SELECT COUNT(*) FROM property_configurations),
  (SELECT COUNT(*) FROM property_images),
  (SELECT COUNT(*) FROM property_amenities)
`
