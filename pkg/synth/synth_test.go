package synth

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/syntax"

	"github.com/shaowenchen/mcp-tool-forge/pkg/capability"
)

func weatherRecord(t *testing.T) *capability.AnalysisRecord {
	t.Helper()
	var record capability.AnalysisRecord
	require.NoError(t, json.Unmarshal([]byte(`{
		"api_name": "OpenWeather",
		"description": "Current weather",
		"base_url": "https://api.openweathermap.org/",
		"endpoints": [{"path": "/data/2.5/weather", "method": "get"}],
		"parameters": {
			"units": {"type": "string", "description": "unit system", "required": false, "default": "metric", "enum": ["metric", "imperial"]},
			"city": {"type": "string", "description": "city name"},
			"api_key": {"type": "string", "description": "credential"},
			"days": {"type": "integer", "required": false, "default": 3}
		},
		"authentication": {"type": "api_key", "location": "header", "parameter_name": "X-API-Key"},
		"confidence": 0.9
	}`), &record))
	return &record
}

func flightsRecord(t *testing.T) *capability.AnalysisRecord {
	t.Helper()
	var record capability.AnalysisRecord
	require.NoError(t, json.Unmarshal([]byte(`{
		"api_name": "fast_flights",
		"description": "Flight search",
		"api_type": "python_package",
		"package_name": "fast_flights",
		"main_function": {"name": "get_flights", "import_statement": "from fast_flights import get_flights"},
		"parameters": {
			"flight_data": {
				"type": "array",
				"description": "legs",
				"item_class": "FlightData",
				"class_structure": {"date": "string", "from_airport": "string", "to_airport": "string"}
			},
			"passengers": {
				"type": "object",
				"description": "travellers",
				"required": false,
				"class_name": "Passengers",
				"class_structure": {"adults": "integer", "children": "integer"}
			},
			"trip": {"type": "string", "required": false, "default": "one-way"}
		},
		"response_format": {
			"type": "object",
			"structure": {
				"current_price": {"type": "string"},
				"flights": {"type": "list", "item_structure": {"name": "string", "price": "string"}}
			}
		}
	}`), &record))
	return &record
}

func parse(t *testing.T, src string) *syntax.File {
	t.Helper()
	f, err := (&syntax.FileOptions{}).Parse("tool.star", src, 0)
	require.NoError(t, err, src)
	return f
}

func TestSynthesizeIsDeterministic(t *testing.T) {
	s := New()
	record := weatherRecord(t)
	sample := map[string]any{"temp": 21.5, "city": "Taipei", "hourly": []any{map[string]any{"t": 1}}}

	first, err := s.Synthesize("WeatherTool", "Current weather", record.Parameters, sample, record)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Synthesize("WeatherTool", "Current weather", record.Parameters, sample, record)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSynthesizeREST(t *testing.T) {
	record := weatherRecord(t)

	src, err := New().Synthesize("WeatherTool", "Current weather", record.Parameters, map[string]any{"temp": 1}, record)
	require.NoError(t, err)
	parse(t, src)

	assert.Contains(t, src, `BASE_URL = "https://api.openweathermap.org"`)
	assert.Contains(t, src, `ENDPOINT_PATH = "/data/2.5/weather"`)
	assert.Contains(t, src, `HTTP_METHOD = "GET"`)
	assert.Contains(t, src, `def call_api(city, api_key, units = "metric", days = 3):`)
	assert.Contains(t, src, `    units = params.get("units", "metric")`)
	assert.Contains(t, src, `    city = params.get("city", None)`)
	assert.Contains(t, src, `headers["X-API-Key"] = api_key`)
	assert.NotContains(t, src, `query["api_key"]`)
	assert.Contains(t, src, `if not city or type(city) != "string":`)
	assert.NotContains(t, src, `if units not in`, "optional parameters are not validated")
	assert.Contains(t, src, "def WeatherTool():")
	assert.Contains(t, src, "# Sample response structure based on API analysis:")
	assert.Contains(t, src, `#   "temp": 1`)
}

func TestSynthesizeEnumValidation(t *testing.T) {
	params := capability.NewParameterSchema()
	params.Set("units", capability.ParameterSpec{Type: "string", Required: true, Enum: []any{"metric", "imperial"}})

	src, err := New().Synthesize("Units", "", params, map[string]any{}, nil)
	require.NoError(t, err)
	parse(t, src)
	assert.Contains(t, src, `if units not in ["metric", "imperial"]:`)
}

func TestSynthesizeNestedArrayValidation(t *testing.T) {
	record := flightsRecord(t)

	src, err := New().Synthesize("FastFlights", "Flight search", record.Parameters, map[string]any{}, record)
	require.NoError(t, err)
	parse(t, src)

	assert.Contains(t, src, `if not flight_data or type(flight_data) != "list":`)
	assert.Contains(t, src, `for key in ["date", "from_airport", "to_airport"]:`)
}

func TestSynthesizePackage(t *testing.T) {
	record := flightsRecord(t)

	src, err := New().Synthesize("FastFlights", "Flight search", record.Parameters, map[string]any{}, record)
	require.NoError(t, err)
	parse(t, src)

	assert.Contains(t, src, `PACKAGE_NAME = "fast_flights"`)
	assert.Contains(t, src, `def call_get_flights(flight_data, passengers = None, trip = "one-way"):`)
	assert.Contains(t, src, `flight_data_objects.append(pkg.FlightData(`)
	assert.Contains(t, src, `from_airport = item["from_airport"],`)
	assert.Contains(t, src, `passengers_obj = pkg.Passengers(`)
	assert.Contains(t, src, `adults = passengers.get("adults", 0),`)
	assert.Contains(t, src, `result = pkg.get_flights(flight_data = flight_data_objects, passengers = passengers_obj, trip = trip)`)
	assert.Contains(t, src, `response["current_price"] = result.current_price`)
	assert.Contains(t, src, `item_dict["price"] = item.price`)
	assert.NotContains(t, src, "http.request")
}

func TestSynthesizePackagePassThrough(t *testing.T) {
	record := flightsRecord(t)
	record.ResponseFormat = &capability.ResponseFormat{Type: "dict"}

	src, err := New().Synthesize("FastFlights", "Flight search", record.Parameters, map[string]any{}, record)
	require.NoError(t, err)
	parse(t, src)
	assert.Contains(t, src, "    return result\n")
	assert.NotContains(t, src, "response = {}")
}

func TestSynthesizeSanitizesIdentifiers(t *testing.T) {
	params := capability.NewParameterSchema()
	params.Set("type", capability.ParameterSpec{Type: "string", Required: true})
	params.Set("page-size", capability.ParameterSpec{Type: "integer", Default: 10.0})
	params.Set("from", capability.ParameterSpec{Type: "string", Required: false})

	src, err := New().Synthesize("search tool", "", params, nil, nil)
	require.NoError(t, err)
	parse(t, src)

	assert.Contains(t, src, `def call_api(type_, page_size = 10, from_ = None):`)
	assert.Contains(t, src, `query["page-size"] = page_size`)
	assert.Contains(t, src, "def Search_tool():")
	assert.Contains(t, src, `name = "search tool",`)
}

func TestSynthesizeAccessor(t *testing.T) {
	src, err := New().SynthesizeAccessor("WeatherTool")
	require.NoError(t, err)
	parse(t, src)

	assert.Contains(t, src, `load("tool.star", "WeatherTool")`)
	assert.Contains(t, src, "def run_weathertool(**kwargs):")
	assert.Contains(t, src, "if not tool.validate(kwargs):")
	assert.Equal(t, "run_weathertool", AccessorFunc("WeatherTool"))
}

func TestSchemaLiteralKeepsOrder(t *testing.T) {
	params := capability.NewParameterSchema()
	params.Set("zeta", capability.ParameterSpec{Type: "string", Required: true})
	params.Set("alpha", capability.ParameterSpec{Type: "boolean", Default: false})

	lit, err := schemaLiteral(params)
	require.NoError(t, err)
	assert.Less(t, strings.Index(lit, `"zeta"`), strings.Index(lit, `"alpha"`))
	assert.Contains(t, lit, `"default": False`)
	assert.Contains(t, lit, `"required": True`)
}
