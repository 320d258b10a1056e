package query

import (
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/lib/pq"
)

const (
	dialectPostgres = "postgres"
	eventsTable     = "events"

	colID          = "id"
	colTitle       = "title"
	colDescription = "description"
	colCategory    = "category"
	colLocation    = "location"
	colTags        = "tags"
	colDate        = "date"
	colCreatedAt   = "created_at"
	colPrice       = "price"
	colFeatured    = "featured"
)

// ErrBuildingQueryFailed reports that goqu could not render a statement.
var ErrBuildingQueryFailed = errors.New("building query failed")

// Builder renders the SQL statements of the discovery engine. All statements
// are prepared with bound arguments.
type Builder struct {
	curatedCity string
}

func NewBuilder(curatedCity string) Builder {
	return Builder{curatedCity: curatedCity}
}

// SelectEvents renders the main page query: the conjunctive predicate, the
// requested ordering with a stable id tiebreak, and offset/limit pagination.
func (b Builder) SelectEvents(spec Spec, now time.Time) (string, []any, error) {
	stmt := goqu.Dialect(dialectPostgres).
		From(eventsTable).
		Select(colID, colTitle, colDescription, colCategory, colLocation, colTags, colDate, colCreatedAt, colPrice, colFeatured).
		Where(predicate(spec, now)...).
		Order(orderFor(spec.Sort), goqu.I(colID).Asc()).
		Offset(uint((spec.Page.Page - 1) * spec.Page.PageSize)).
		Limit(uint(spec.Page.PageSize))

	return render(stmt)
}

// CountEvents renders the total count of the fully filtered set, before
// pagination.
func (b Builder) CountEvents(spec Spec, now time.Time) (string, []any, error) {
	stmt := goqu.Dialect(dialectPostgres).
		From(eventsTable).
		Select(goqu.COUNT(goqu.Star())).
		Where(predicate(spec, now)...)

	return render(stmt)
}

// CountFeatured renders the featured counter, which ignores every filter.
func (b Builder) CountFeatured() (string, []any, error) {
	stmt := goqu.Dialect(dialectPostgres).
		From(eventsTable).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.I(colFeatured).IsTrue())

	return render(stmt)
}

// CountThisWeek renders the counter of events dated inside the current ISO
// week. The Monday..Monday bounds are computed in Go and passed as arguments
// so the result does not depend on the database session locale.
func (b Builder) CountThisWeek(now time.Time) (string, []any, error) {
	weekStart, weekEnd := isoWeek(now)
	stmt := goqu.Dialect(dialectPostgres).
		From(eventsTable).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.I(colDate).Gte(weekStart),
			goqu.I(colDate).Lt(weekEnd),
		)

	return render(stmt)
}

// CountCurated renders the counter of future events at the operator's curated
// city. The second return value is false when no curated city is configured.
func (b Builder) CountCurated(now time.Time) (string, []any, bool, error) {
	if b.curatedCity == "" {
		return "", nil, false, nil
	}
	stmt := goqu.Dialect(dialectPostgres).
		From(eventsTable).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.I(colLocation).Eq(b.curatedCity),
			goqu.I(colDate).Gte(now),
		)

	sql, args, err := render(stmt)
	return sql, args, err == nil, err
}

// SelectCategories renders the distinct non-null category facet scan.
func (b Builder) SelectCategories() (string, []any, error) {
	return renderDistinctColumn(colCategory)
}

// SelectLocations renders the distinct non-null location facet scan.
func (b Builder) SelectLocations() (string, []any, error) {
	return renderDistinctColumn(colLocation)
}

// SelectTags renders the flattened distinct union of all tag arrays.
func (b Builder) SelectTags() (string, []any, error) {
	stmt := goqu.Dialect(dialectPostgres).
		From(eventsTable).
		SelectDistinct(goqu.L("unnest(tags)").As("tag")).
		Order(goqu.I("tag").Asc())

	return render(stmt)
}

func renderDistinctColumn(column string) (string, []any, error) {
	stmt := goqu.Dialect(dialectPostgres).
		From(eventsTable).
		SelectDistinct(column).
		Where(goqu.I(column).IsNotNull()).
		Order(goqu.I(column).Asc())

	return render(stmt)
}

// predicate composes the conjunctive filter clauses of a spec.
//
// A window with StartDate after EndDate is emitted as given: both bounds are
// kept, so the result set is empty. The window is never swapped and never
// rejected, because a shareable URL must not turn into an error.
func predicate(spec Spec, now time.Time) []exp.Expression {
	filters := spec.Filters
	conds := make([]exp.Expression, 0, 8)

	if search := filters.Search; search != "" {
		pattern := "%" + search + "%"
		conds = append(conds, goqu.Or(
			goqu.I(colTitle).ILike(pattern),
			goqu.I(colDescription).ILike(pattern),
			goqu.I(colLocation).ILike(pattern),
			goqu.I(colCategory).ILike(pattern),
		))
	}
	if filters.Category != nil {
		conds = append(conds, goqu.I(colCategory).Eq(*filters.Category))
	}
	if filters.Location != nil {
		conds = append(conds, goqu.I(colLocation).Eq(*filters.Location))
	}
	if tags := effectiveTags(spec); len(tags) > 0 {
		conds = append(conds, goqu.L("tags @> ?", pq.Array(tags)))
	}
	if filters.FeaturedOnly {
		conds = append(conds, goqu.I(colFeatured).IsTrue())
	}

	if !spec.IncludePast {
		conds = append(conds, goqu.I(colDate).Gte(now))
	} else if filters.EndDate == nil {
		// Past-events view: without an explicit upper bound, only events
		// that already happened qualify.
		conds = append(conds, goqu.I(colDate).Lte(now))
	}
	if filters.StartDate != nil {
		conds = append(conds, goqu.I(colDate).Gte(*filters.StartDate))
	}
	if filters.EndDate != nil {
		conds = append(conds, goqu.I(colDate).Lte(*filters.EndDate))
	}

	return conds
}

// effectiveTags merges the explicit tag filter with the session's
// recommendation tags on the personalized tab. Both use the same
// superset-containment rule.
func effectiveTags(spec Spec) []string {
	if spec.Tab != TabForYou || len(spec.RecommendationTags) == 0 {
		return spec.Filters.Tags
	}
	merged := make([]string, 0, len(spec.Filters.Tags)+len(spec.RecommendationTags))
	merged = append(merged, spec.Filters.Tags...)
	merged = append(merged, spec.RecommendationTags...)
	return NormalizeTags(merged)
}

func orderFor(sortOpt Sort) exp.OrderedExpression {
	switch sortOpt {
	case SortLatest:
		return goqu.I(colDate).Desc()
	case SortNewest:
		return goqu.I(colCreatedAt).Desc()
	case SortPriceLow:
		return goqu.I(colPrice).Asc().NullsFirst()
	case SortPriceHigh:
		return goqu.I(colPrice).Desc().NullsLast()
	default:
		return goqu.I(colDate).Asc()
	}
}

func render(stmt *goqu.SelectDataset) (string, []any, error) {
	sql, args, err := stmt.Prepared(true).ToSQL()
	if err != nil {
		return "", nil, errors.Join(ErrBuildingQueryFailed, err)
	}
	return sql, args, nil
}

// isoWeek returns the Monday 00:00 of now's ISO week and the Monday 00:00 of
// the next week, in now's location.
func isoWeek(now time.Time) (time.Time, time.Time) {
	day := now
	offset := (int(day.Weekday()) + 6) % 7 // Monday=0 .. Sunday=6
	monday := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location()).AddDate(0, 0, -offset)
	return monday, monday.AddDate(0, 0, 7)
}
