package entity

func seedRegistry(r *Registry) {
	seed := map[string][]Record{
		Cities: {
			{"id": "city-lisbon", "name": "Lisbon", "country": "Portugal", "region": "Lisboa", "is_featured": true},
			{"id": "city-faro", "name": "Faro", "country": "Portugal", "region": "Algarve", "is_featured": true},
			{"id": "city-porto", "name": "Porto", "country": "Portugal", "region": "Norte", "is_featured": false},
		},
		Beaches: {
			{"id": "beach-marinha", "name": "Praia da Marinha", "city_id": "city-faro", "blue_flag": true, "water_quality": "excellent"},
			{"id": "beach-rocha", "name": "Praia da Rocha", "city_id": "city-faro", "blue_flag": true, "water_quality": "good"},
			{"id": "beach-carcavelos", "name": "Praia de Carcavelos", "city_id": "city-lisbon", "blue_flag": false, "water_quality": "good"},
		},
		Properties: {
			{"id": "prop-alfama-loft", "title": "Alfama loft", "city_id": "city-lisbon", "property_type": "apartment", "price": 320000, "bedrooms": 2, "status": "available"},
			{"id": "prop-lagos-villa", "title": "Cliffside villa", "city_id": "city-faro", "property_type": "villa", "price": 1250000, "bedrooms": 5, "status": "available"},
		},
		Businesses: {
			{"id": "biz-sardinha", "name": "Casa da Sardinha", "category": "restaurant", "city_id": "city-lisbon", "loyalty_enabled": true},
			{"id": "biz-surfschool", "name": "Atlantic Surf School", "category": "activity", "city_id": "city-faro", "loyalty_enabled": true},
		},
		Events: {
			{"id": "event-santos", "title": "Santos Populares", "city_id": "city-lisbon", "start_date": "2025-06-12", "category": "festival"},
			{"id": "event-fado", "title": "Fado night", "city_id": "city-porto", "start_date": "2025-07-03", "category": "music"},
		},
	}

	for name, records := range seed {
		c := r.collections[name]
		for _, rec := range records {
			c.Create(rec)
		}
	}
}
