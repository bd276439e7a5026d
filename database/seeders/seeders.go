package seeders

import (
	"fmt"

	"classflow_go/models"
	"classflow_go/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SeedAll runs all seeders
func SeedAll(db *gorm.DB) error {
	logrus.Info("Starting database seeding...")

	if err := SeedUsers(db); err != nil {
		return err
	}
	if err := SeedCourses(db); err != nil {
		return err
	}

	logrus.Info("Database seeding completed successfully")
	return nil
}

// SeedUsers creates one admin, two tutors and a handful of students.
func SeedUsers(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		logrus.Info("Users already seeded, skipping...")
		return nil
	}

	hashedPassword, err := utils.HashPassword("password123")
	if err != nil {
		return err
	}

	users := []models.User{
		{Username: "admin", FullName: "Front Desk", Email: "admin@classflow.local", Role: models.RoleAdmin},
		{Username: "tutor_john", FullName: "John Smith", Email: "john@classflow.local", Role: models.RoleTutor},
		{Username: "tutor_mali", FullName: "Mali Srisuk", Email: "mali@classflow.local", Role: models.RoleTutor},
	}
	for i := 1; i <= 6; i++ {
		users = append(users, models.User{
			Username: fmt.Sprintf("student%02d", i),
			FullName: fmt.Sprintf("Student %d", i),
			Email:    fmt.Sprintf("student%02d@classflow.local", i),
			Role:     models.RoleStudent,
		})
	}

	for i := range users {
		users[i].Password = hashedPassword
		users[i].Status = "active"
		if err := db.Create(&users[i]).Error; err != nil {
			logrus.WithError(err).WithField("username", users[i].Username).Error("Error seeding user")
		}
	}

	logrus.WithField("count", len(users)).Info("Users seeded successfully")
	return nil
}

// SeedCourses creates sample courses with curricula.
func SeedCourses(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Course{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		logrus.Info("Courses already seeded, skipping...")
		return nil
	}

	courses := []models.Course{
		{
			Name: "General Conversation A2", Level: "A2", TotalSessions: 20, SessionDurationMinutes: 90,
			Curriculum: curriculum("Greetings", "Daily routines", "Food and drink", "Directions", "Shopping"),
		},
		{
			Name: "IELTS Preparation", Level: "B2", TotalSessions: 30, SessionDurationMinutes: 120,
			Curriculum: curriculum("Test overview", "Listening: maps", "Reading: skimming", "Writing task 1", "Speaking part 2"),
		},
		{
			Name: "Kids Phonics", Level: "Kids", TotalSessions: 12, SessionDurationMinutes: 60,
		},
	}

	for i := range courses {
		if err := db.Create(&courses[i]).Error; err != nil {
			logrus.WithError(err).WithField("course", courses[i].Name).Error("Error seeding course")
		}
	}

	logrus.WithField("count", len(courses)).Info("Courses seeded successfully")
	return nil
}

func curriculum(topics ...string) []models.CurriculumTopic {
	out := make([]models.CurriculumTopic, len(topics))
	for i, t := range topics {
		out[i] = models.CurriculumTopic{SessionNumber: i + 1, Topic: t}
	}
	return out
}
