package scrapers

// Listing pages, one per category.
const (
	vehiclesURL     = "https://turo.com/ca/en/vehicles/listings"
	tripsBookedURL  = "https://turo.com/ca/en/trips/booked"
	tripsHistoryURL = "https://turo.com/ca/en/trips/history"
	earningsURL     = "https://turo.com/ca/en/business/earnings"
	reviewsURL      = "https://turo.com/ca/en/business/reviews"
)

// Container selectors waited on before extraction runs. The obfuscated
// class names drift with frontend deploys; data-testid attributes are the
// stable ones.
const (
	vehicleCardSel   = `[data-testid="vehicle-listing-details-card"]`
	tripCardSel      = `[data-testid="baseTripCard"]`
	upcomingListSel  = `[data-testid="trips-upcoming-trips-list"]`
	historyListSel   = `[data-testid="trip-history-list"]`
	earningsTotalSel = `h2[data-testid="earningsFilterSummary-total"]`
	reviewListSel    = `[data-testid="reviewList-container"]`
)
