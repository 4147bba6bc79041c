package achievement

import "github.com/sethshoultes/flock-control/internal/model"

// Seed is the initial achievement catalogue, inserted once into an empty
// achievements table. Names are unique.
var Seed = []model.Achievement{
	{Name: "First Count", Description: "Count your first flock", Type: model.AchievementTotalCounts, Requirement: 1, Icon: "🐣"},
	{Name: "Counting Enthusiast", Description: "Record 10 counts", Type: model.AchievementTotalCounts, Requirement: 10, Icon: "🔢"},
	{Name: "Dedicated Counter", Description: "Record 50 counts", Type: model.AchievementTotalCounts, Requirement: 50, Icon: "📋"},
	{Name: "Century Club", Description: "Record 100 counts", Type: model.AchievementTotalCounts, Requirement: 100, Icon: "💯"},
	{Name: "Breed Explorer", Description: "Identify 3 different breeds", Type: model.AchievementUniqueBreeds, Requirement: 3, Icon: "🔍"},
	{Name: "Breed Expert", Description: "Identify 10 different breeds", Type: model.AchievementUniqueBreeds, Requirement: 10, Icon: "🎓"},
	{Name: "Big Flock", Description: "Count 10 birds in one photo", Type: model.AchievementMaxCount, Requirement: 10, Icon: "🐔"},
	{Name: "Massive Flock", Description: "Count 50 birds in one photo", Type: model.AchievementMaxCount, Requirement: 50, Icon: "🐓"},
	{Name: "Flock Master", Description: "Count 100 birds in one photo", Type: model.AchievementMaxCount, Requirement: 100, Icon: "👑"},
	{Name: "Regular", Description: "Count on 7 different days", Type: model.AchievementUniqueDays, Requirement: 7, Icon: "📅"},
	{Name: "Devoted Keeper", Description: "Count on 30 different days", Type: model.AchievementUniqueDays, Requirement: 30, Icon: "🗓️"},
	{Name: "Streak Starter", Description: "Count 3 days in a row", Type: model.AchievementConsecutiveDays, Requirement: 3, Icon: "🔥"},
	{Name: "Week Streak", Description: "Count 7 days in a row", Type: model.AchievementConsecutiveDays, Requirement: 7, Icon: "⚡"},
}
